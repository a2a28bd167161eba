package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"

	"keygate/pkg/contracts/domain"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// Problem types
const (
	TypeValidation     = "/errors/validation"
	TypeRateLimit      = "/errors/rate-limit"
	TypeInternal       = "/errors/internal"
	TypeTimeout        = "/errors/timeout"
	TypeStorage        = "/errors/activation/storage"
	TypeEmptyCode      = "/errors/activation/empty"
	TypeInvalidCode    = "/errors/activation/invalid"
	TypeExpired        = "/errors/activation/expired"
	TypeUsageExceeded  = "/errors/activation/usage-exceeded"
	TypeDeviceMismatch = "/errors/activation/device-mismatch"
	TypeAlreadyActive  = "/errors/activation/already-activated"
)

// ResultToProblem maps a failed activation result to problem details.
// It returns nil for a successful result.
func ResultToProblem(result domain.ActivationResult, instance string) *ProblemDetails {
	var problem *ProblemDetails

	switch result.Kind {
	case domain.ResultSuccess:
		return nil
	case domain.ResultEmpty:
		problem = NewProblemDetails(http.StatusBadRequest, TypeEmptyCode,
			"Activation Code Required", "Enter an activation code to continue.", instance)
	case domain.ResultInvalid:
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeInvalidCode,
			"Invalid Activation Code", result.Reason, instance)
	case domain.ResultExpired:
		problem = NewProblemDetails(http.StatusForbidden, TypeExpired,
			"Activation Expired", "This activation has expired.", instance)
	case domain.ResultUsageExceeded:
		problem = NewProblemDetails(http.StatusForbidden, TypeUsageExceeded,
			"Usage Limit Reached", "This activation has no remaining uses.", instance)
	case domain.ResultDeviceMismatch:
		problem = NewProblemDetails(http.StatusForbidden, TypeDeviceMismatch,
			"Device Mismatch", "This activation is bound to a different device.", instance)
	case domain.ResultAlreadyActivated:
		problem = NewProblemDetails(http.StatusConflict, TypeAlreadyActive,
			"Already Activated", "Another activation code is already active on this installation.", instance)
	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Unknown Activation Result", string(result.Kind), instance)
	}

	return problem.WithExtension("result", result.Kind).WithExtension("access", "denied")
}
