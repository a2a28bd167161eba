package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents one invalid request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationProblem renders a request validation failure. Field errors from
// validator/v10 are listed under "errors"; anything else becomes the detail.
func ValidationProblem(err error, instance string) *ProblemDetails {
	problem := NewProblemDetails(
		http.StatusBadRequest,
		TypeValidation,
		"Invalid Request",
		"Request validation failed",
		instance,
	)

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		problem.Detail = err.Error()
		return problem
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fieldMessage(fe),
		})
	}
	return problem.WithExtension("errors", out)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
