package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	apperrors "keygate/internal/errors"
	"keygate/pkg/contracts/domain"
)

// BundleSchema tags the registry file format
const BundleSchema = "keygate.registry/v1"

// Bundle is the YAML document the code-generation UI emits at export time
type Bundle struct {
	Schema string       `yaml:"schema" validate:"required,eq=keygate.registry/v1"`
	Codes  []Definition `yaml:"codes" validate:"required,min=1,dive"`
}

// Definition is one code as written by the operator
type Definition struct {
	Code        string `yaml:"code" validate:"required,max=64"`
	Type        string `yaml:"type" validate:"required,oneof=PERMANENT TIME_LIMITED USAGE_LIMITED COMBINED DEVICE_BOUND"`
	TimeLimit   string `yaml:"time_limit,omitempty"`
	UsageLimit  *int   `yaml:"usage_limit,omitempty" validate:"omitempty,min=1"`
	DeviceBound bool   `yaml:"device_bound,omitempty"`
	Note        string `yaml:"note,omitempty" validate:"max=256"`
}

// LoadFile reads and parses a registry bundle from disk
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry bundle: %w", err)
	}
	return LoadYAML(data)
}

// LoadYAML parses a registry bundle, validates every definition and builds the registry
func LoadYAML(data []byte) (*Registry, error) {
	var bundle Bundle
	if err := yaml.UnmarshalStrict(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryInvalid, err)
	}

	if err := validator.New().Struct(bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRegistryInvalid, err)
	}

	codes := make([]domain.ActivationCode, 0, len(bundle.Codes))
	for i, def := range bundle.Codes {
		code, err := def.toCode()
		if err != nil {
			return nil, fmt.Errorf("%w: code #%d: %v", apperrors.ErrRegistryInvalid, i+1, err)
		}
		codes = append(codes, code)
	}

	return New(codes)
}

func (d Definition) toCode() (domain.ActivationCode, error) {
	code := domain.ActivationCode{
		Code:        d.Code,
		Type:        domain.ActivationCodeType(d.Type),
		DeviceBound: d.DeviceBound,
	}

	if d.TimeLimit != "" {
		limit, err := ParseLimit(d.TimeLimit)
		if err != nil {
			return code, err
		}
		code.TimeLimit = &limit
	}
	if d.UsageLimit != nil {
		n := *d.UsageLimit
		code.UsageLimit = &n
	}
	if d.Note != "" {
		note := d.Note
		code.Note = &note
	}

	return code, nil
}

// ParseLimit converts a time limit into a duration. It accepts Go durations
// ("36h", "90m") plus whole days and weeks ("7d", "2w").
func ParseLimit(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty time limit")
	}

	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid time limit %q", s)
		}
		days := n
		if unit == 'w' {
			days = n * 7
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time limit %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("time limit must be positive, got %q", s)
	}
	return d, nil
}

// FormatLimit renders a duration the way ParseLimit reads it
func FormatLimit(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d%(7*day) == 0:
		return strconv.Itoa(int(d/(7*day))) + "w"
	case d%day == 0:
		return strconv.Itoa(int(d/day)) + "d"
	}
	return d.String()
}
