// Package events defines the frames exchanged over the activation status
// websocket.
package events

import (
	"time"

	"keygate/pkg/contracts/domain"
)

// ProtocolVersion is announced in the connection frame
const ProtocolVersion = "1"

// Frame types sent by the host
const (
	TypeConnection       = "connection"
	TypeActivationStatus = "activation:status"
	TypeError            = "error"
)

// Commands a client may send
const (
	CommandHeartbeat = "heartbeat"
	CommandRefresh   = "refresh"
)

// ErrorCodeStatusUnavailable is the code of an error frame sent when the
// activation state could not be read
const ErrorCodeStatusUnavailable = "status_unavailable"

// Message is the envelope for every frame sent to a client
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// ClientMessage is a frame received from a client
type ClientMessage struct {
	Type string `json:"type"`
}

// ConnectionPayload is the data of a connection frame
type ConnectionPayload struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Protocol string `json:"protocol"`
}

// StatusPayload is the data of an activation:status frame
type StatusPayload struct {
	State  domain.ActivationState   `json:"state"`
	Status *domain.ActivationStatus `json:"status,omitempty"`
}

// ErrorPayload is the data of an error frame. It never says why the state
// could not be read; Access is always "denied".
type ErrorPayload struct {
	Code   string `json:"code"`
	Access string `json:"access"`
}
