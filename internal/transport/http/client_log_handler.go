package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "keygate/internal/errors"
)

// ClientLogHandler forwards UI log entries into the host log
type ClientLogHandler struct {
	logger   *slog.Logger
	validate *validator.Validate
}

// NewClientLogHandler creates a new client log handler
func NewClientLogHandler(logger *slog.Logger) *ClientLogHandler {
	return &ClientLogHandler{
		logger:   logger.With(slog.String("handler", "client_log")),
		validate: validator.New(),
	}
}

// LogRequest represents a client log entry
type LogRequest struct {
	Level   string                 `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string                 `json:"message" validate:"required,max=2048"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Source  string                 `json:"source,omitempty" validate:"max=128"`
}

// Bind implements render.Binder
func (l *LogRequest) Bind(r *http.Request) error {
	return nil
}

// Handle processes POST /api/client-log
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	req := &LogRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apperrors.ValidationProblem(err, r.URL.Path))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Render(w, r, apperrors.ValidationProblem(err, r.URL.Path))
		return
	}

	attrs := []slog.Attr{slog.String("client_source", req.Source)}
	if req.Data != nil {
		attrs = append(attrs, slog.Any("data", req.Data))
	}
	h.logger.LogAttrs(r.Context(), clientLevel(req.Level), req.Message, attrs...)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]bool{"success": true})
}

func clientLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
