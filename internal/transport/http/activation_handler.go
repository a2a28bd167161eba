package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/internal/middleware"
	"keygate/pkg/contracts/domain"
)

const requestTimeout = 10 * time.Second

// ActivateRequest is the body of POST /api/activation/activate.
// Only the length is checked here. Empty input and separators are the
// activation core's concern.
type ActivateRequest struct {
	Code string `json:"code" validate:"max=128"`
}

// Bind implements render.Binder
func (a *ActivateRequest) Bind(r *http.Request) error {
	return nil
}

// ActivationResponse is rendered for granted results
type ActivationResponse struct {
	Result    domain.ActivationResult  `json:"result"`
	Granted   bool                     `json:"granted"`
	Status    *domain.ActivationStatus `json:"status,omitempty"`
	TraceID   string                   `json:"trace_id"`
	Timestamp time.Time                `json:"timestamp"`
}

// Render implements render.Renderer
func (a *ActivationResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// StatusResponse is rendered by GET /api/activation/status
type StatusResponse struct {
	State   domain.ActivationState   `json:"state"`
	Status  *domain.ActivationStatus `json:"status,omitempty"`
	TraceID string                   `json:"trace_id"`
}

// Render implements render.Renderer
func (s *StatusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// ActivationHandler handles activation HTTP requests
type ActivationHandler struct {
	activation ActivationService
	status     StatusService
	notifier   StatusNotifier
	limiter    *middleware.RateLimiter
	errors     *apperrors.ErrorHandler
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewActivationHandler creates the handler. notifier and limiter may be nil.
func NewActivationHandler(activation ActivationService, status StatusService, notifier StatusNotifier,
	limiter *middleware.RateLimiter, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *ActivationHandler {
	return &ActivationHandler{
		activation: activation,
		status:     status,
		notifier:   notifier,
		limiter:    limiter,
		errors:     errHandler,
		validate:   validator.New(),
		logger:     logger.With(slog.String("handler", "activation")),
	}
}

// Routes returns a chi router for activation endpoints
func (h *ActivationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.Post("/activate", h.Activate)
	})
	r.Post("/usage", h.RecordUsage)
	r.Post("/check", h.Check)
	r.Get("/status", h.Status)

	return r
}

// Activate handles POST /api/activation/activate
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	data := &ActivateRequest{}
	if err := render.Bind(r, data); err != nil {
		h.renderValidation(w, r, err)
		return
	}
	if err := h.validate.Struct(data); err != nil {
		h.renderValidation(w, r, err)
		return
	}

	h.respond(w, r, func(ctx context.Context) (domain.ActivationResult, error) {
		return h.activation.Activate(ctx, data.Code)
	})
}

// RecordUsage handles POST /api/activation/usage
func (h *ActivationHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.activation.RecordUsage)
}

// Check handles POST /api/activation/check
func (h *ActivationHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.activation.Check)
}

// Status handles GET /api/activation/status
func (h *ActivationHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := h.status.Status(ctx)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp := &StatusResponse{
		State:   domain.StateNotActivated,
		Status:  st,
		TraceID: infrastructure.GetTraceID(ctx),
	}
	if st != nil {
		resp.State = st.State
	}
	render.Render(w, r, resp)
}

// respond runs one result-producing operation and renders it. The status
// is attached to granted responses so the UI needs no second round trip.
func (h *ActivationHandler) respond(w http.ResponseWriter, r *http.Request, op func(context.Context) (domain.ActivationResult, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := op(ctx)
	if h.notifier != nil {
		h.notifier.Notify()
	}
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	traceID := infrastructure.GetTraceID(ctx)
	if problem := apperrors.ResultToProblem(result, r.URL.Path); problem != nil {
		render.Render(w, r, problem.WithExtension("trace_id", traceID))
		return
	}

	resp := &ActivationResponse{
		Result:    result,
		Granted:   true,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}
	st, err := h.status.Status(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "Status unavailable after granted result",
			slog.String("error", err.Error()))
	} else {
		resp.Status = st
	}
	render.Render(w, r, resp)
}

func (h *ActivationHandler) renderValidation(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "Rejected activation request",
		slog.String("error", err.Error()))
	problem := apperrors.ValidationProblem(err, r.URL.Path).
		WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))
	render.Render(w, r, problem)
}
