package websocket

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the websocket instruments. A nil *Metrics records nothing.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionDuration metric.Float64Histogram
	clients            metric.Int64Gauge
	messagesSent       metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedClients     metric.Int64Counter
}

// NewMetrics creates the websocket instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.connectionsTotal, err = meter.Int64Counter("keygate_websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections")); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	if m.connectionDuration, err = meter.Float64Histogram("keygate_websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if m.clients, err = meter.Int64Gauge("keygate_websocket_clients",
		metric.WithDescription("Currently connected WebSocket clients")); err != nil {
		return nil, fmt.Errorf("failed to create clients gauge: %w", err)
	}
	if m.messagesSent, err = meter.Int64Counter("keygate_websocket_messages_sent_total",
		metric.WithDescription("Frames queued to WebSocket clients")); err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}
	if m.messageBytes, err = meter.Int64Counter("keygate_websocket_message_bytes_total",
		metric.WithDescription("Bytes queued to WebSocket clients"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}
	if m.droppedClients, err = meter.Int64Counter("keygate_websocket_dropped_clients_total",
		metric.WithDescription("Clients dropped for not draining their buffer")); err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) connected(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.clients.Record(ctx, int64(count))
}

func (m *Metrics) disconnected(ctx context.Context, count int, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))
	m.clients.Record(ctx, int64(count))
}

func (m *Metrics) clientCount(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.clients.Record(ctx, int64(count))
}

func (m *Metrics) messageSent(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
	m.messageBytes.Add(ctx, int64(size))
}

func (m *Metrics) dropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedClients.Add(ctx, 1)
}
