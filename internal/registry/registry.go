package registry

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	apperrors "keygate/internal/errors"
	"keygate/pkg/contracts/domain"
)

// Registry is the read-only set of activation codes bundled into the package.
// It is safe for concurrent use because it is never mutated after New returns.
type Registry struct {
	codes map[string]domain.ActivationCode
}

// Normalize returns the canonical form of an operator- or user-typed code:
// trimmed, upper-cased, with every separator removed.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, code)
}

// New builds a registry from code definitions. Codes are stored under their
// normalized form; two definitions normalizing to the same code are rejected.
func New(codes []domain.ActivationCode) (*Registry, error) {
	v := newValidator()
	r := &Registry{codes: make(map[string]domain.ActivationCode, len(codes))}

	for i, code := range codes {
		if err := v.Struct(code); err != nil {
			return nil, fmt.Errorf("%w: code #%d: %v", apperrors.ErrRegistryInvalid, i+1, err)
		}

		key := Normalize(code.Code)
		if _, exists := r.codes[key]; exists {
			return nil, fmt.Errorf("%w: duplicate code #%d (%s)", apperrors.ErrRegistryInvalid, i+1, mask(key))
		}

		code.Code = key
		r.codes[key] = code
	}

	return r, nil
}

// Lookup finds a code definition. The argument is normalized again so callers
// may pass raw input as well as canonical codes.
func (r *Registry) Lookup(code string) (domain.ActivationCode, bool) {
	if r == nil {
		return domain.ActivationCode{}, false
	}
	c, ok := r.codes[Normalize(code)]
	return c, ok
}

// Len returns the number of bundled codes
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.codes)
}

// Codes returns all definitions sorted by canonical code
func (r *Registry) Codes() []domain.ActivationCode {
	if r == nil {
		return nil
	}
	out := make([]domain.ActivationCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CountByType summarizes the bundle for diagnostics
func (r *Registry) CountByType() map[domain.ActivationCodeType]int {
	counts := make(map[domain.ActivationCodeType]int)
	if r == nil {
		return counts
	}
	for _, c := range r.codes {
		counts[c.Type]++
	}
	return counts
}

func mask(code string) string {
	if len(code) <= 8 {
		return "****"
	}
	return code[:4] + "****" + code[len(code)-4:]
}
