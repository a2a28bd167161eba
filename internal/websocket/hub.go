// Package websocket streams activation status to the embedding UI over
// gorilla/websocket.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keygate/internal/infrastructure"
	"keygate/pkg/contracts/events"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
	// newest status or error frame, replayed to clients as they connect
	last []byte

	refresh func()
	logger  *slog.Logger
	metrics *Metrics
	done    chan struct{}
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		done:       make(chan struct{}),
	}
}

// OnRefresh sets the callback run when a client asks for fresh status.
// It must be set before Run.
func (h *Hub) OnRefresh(fn func()) {
	h.refresh = fn
}

// Run is the hub's main loop. It returns when ctx is done, after closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "Hub shutting down")
			return nil

		case client := <-h.register:
			h.addClient(ctx, client)

		case client := <-h.unregister:
			h.removeClient(ctx, client, "normal")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.metrics.messageSent(ctx, len(message))
				default:
					// slow consumer, drop it rather than block the others
					delete(h.clients, client)
					close(client.send)
					h.metrics.dropped(ctx)
					h.logger.WarnContext(ctx, "Dropped slow websocket client",
						slog.String("client_id", client.id))
				}
			}
			h.metrics.clientCount(ctx, len(h.clients))
			h.mu.Unlock()
		}
	}
}

func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	last := h.last
	h.mu.Unlock()

	if client.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, client.traceID)
	}
	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr))
	h.metrics.connected(ctx, count)

	hello, err := encode(events.Message{
		Type: events.TypeConnection,
		Data: events.ConnectionPayload{
			Status:   "connected",
			ClientID: client.id,
			Protocol: events.ProtocolVersion,
		},
		Timestamp: time.Now(),
		TraceID:   client.traceID,
	})
	if err == nil {
		client.trySend(hello)
	}
	if last != nil {
		client.trySend(last)
	}
}

func (h *Hub) removeClient(ctx context.Context, client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	if client.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, client.traceID)
	}
	duration := time.Since(client.connectedAt)
	h.logger.InfoContext(ctx, "Client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", duration))
	h.metrics.disconnected(ctx, count, duration, reason)
}

// Register adds a client. It is a no-op once the hub stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client. It is a no-op once the hub stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a message to every client. Status and error messages are
// also kept for replay to clients that connect later, so a late client never
// sees a status older than the newest failure.
func (h *Hub) Broadcast(msg events.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}

	if msg.Type == events.TypeActivationStatus || msg.Type == events.TypeError {
		h.mu.Lock()
		h.last = data
		h.mu.Unlock()
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return fmt.Errorf("websocket hub stopped")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) requestRefresh() {
	if h.refresh != nil {
		h.refresh()
	}
}

func encode(msg events.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode websocket message: %w", err)
	}
	return data, nil
}
