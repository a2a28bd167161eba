package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"keygate/internal/infrastructure"
	"keygate/pkg/contracts/domain"
	"keygate/pkg/contracts/events"
)

// StatusWatcher polls the status source and pushes changes to the hub
type StatusWatcher struct {
	source   StatusSource
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	notify chan struct{}
	last   []byte
}

// NewStatusWatcher creates a watcher polling every interval
func NewStatusWatcher(source StatusSource, hub *Hub, interval time.Duration, logger *slog.Logger) *StatusWatcher {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatusWatcher{
		source:   source,
		hub:      hub,
		interval: interval,
		logger:   logger.With(slog.String("component", "websocket.status")),
		notify:   make(chan struct{}, 1),
	}
}

// Notify asks for an immediate poll, e.g. after an activation. It never blocks.
func (w *StatusWatcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done
func (w *StatusWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll(ctx)
		case <-w.notify:
			w.poll(ctx)
		}
	}
}

func (w *StatusWatcher) poll(ctx context.Context) {
	ctx = infrastructure.EnsureTraceID(ctx)
	pollCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	st, err := w.source.Status(pollCtx)

	msg := events.Message{Type: events.TypeActivationStatus, TraceID: infrastructure.GetTraceID(ctx)}
	if err != nil {
		w.logger.ErrorContext(ctx, "Status poll failed", slog.String("error", err.Error()))
		msg.Type = events.TypeError
		msg.Data = events.ErrorPayload{Code: events.ErrorCodeStatusUnavailable, Access: "denied"}
	} else {
		payload := events.StatusPayload{State: domain.StateNotActivated, Status: st}
		if st != nil {
			payload.State = st.State
		}
		msg.Data = payload
	}

	// unchanged payloads are not re-sent
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return
	}
	if bytes.Equal(data, w.last) {
		return
	}
	w.last = data

	if err := w.hub.Broadcast(msg); err != nil {
		w.logger.DebugContext(ctx, "Status broadcast skipped", slog.String("error", err.Error()))
	}
}
