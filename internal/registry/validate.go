package registry

import (
	"github.com/go-playground/validator/v10"

	"keygate/pkg/contracts/domain"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(codeRules, domain.ActivationCode{})
	return v
}

// codeRules enforces which limits each code type carries
func codeRules(sl validator.StructLevel) {
	code := sl.Current().Interface().(domain.ActivationCode)

	if Normalize(code.Code) == "" {
		sl.ReportError(code.Code, "code", "Code", "required", "")
	}
	if !code.Type.Valid() {
		sl.ReportError(code.Type, "type", "Type", "oneof", "")
		return
	}

	if code.TimeLimit != nil && *code.TimeLimit <= 0 {
		sl.ReportError(code.TimeLimit, "time_limit", "TimeLimit", "gt", "0")
	}
	if code.UsageLimit != nil && *code.UsageLimit <= 0 {
		sl.ReportError(code.UsageLimit, "usage_limit", "UsageLimit", "gt", "0")
	}

	needTime, needUsage, allowTime, allowUsage := false, false, false, false
	switch code.Type {
	case domain.CodeTypePermanent:
	case domain.CodeTypeTimeLimited:
		needTime, allowTime = true, true
	case domain.CodeTypeUsageLimited:
		needUsage, allowUsage = true, true
	case domain.CodeTypeCombined:
		needTime, needUsage, allowTime, allowUsage = true, true, true, true
	case domain.CodeTypeDeviceBound:
		allowTime, allowUsage = true, true
	}

	if needTime && code.TimeLimit == nil {
		sl.ReportError(code.TimeLimit, "time_limit", "TimeLimit", "required", string(code.Type))
	}
	if !allowTime && code.TimeLimit != nil {
		sl.ReportError(code.TimeLimit, "time_limit", "TimeLimit", "excluded_with", string(code.Type))
	}
	if needUsage && code.UsageLimit == nil {
		sl.ReportError(code.UsageLimit, "usage_limit", "UsageLimit", "required", string(code.Type))
	}
	if !allowUsage && code.UsageLimit != nil {
		sl.ReportError(code.UsageLimit, "usage_limit", "UsageLimit", "excluded_with", string(code.Type))
	}
}
