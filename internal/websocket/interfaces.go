package websocket

import (
	"context"
	"time"

	"keygate/pkg/contracts/domain"
)

// Connection is the subset of *websocket.Conn the client pumps use.
// Tests substitute an in-memory connection.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// StatusSource yields the current activation status, nil when not activated
type StatusSource interface {
	Status(ctx context.Context) (*domain.ActivationStatus, error)
}
