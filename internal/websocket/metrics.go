package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mmmcli/websocket"

// Metrics are the OpenTelemetry instruments of the hub. A nil *Metrics
// records nothing.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesTotal      metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedMessages    metric.Int64Counter
	broadcasts         metric.Int64Counter
}

// NewMetrics creates the hub instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		}
	}

	counter(&m.connectionsTotal, "websocket_connections_total", "Total number of WebSocket connections")
	if err == nil {
		m.connectionsActive, err = meter.Int64UpDownCounter("websocket_connections_active",
			metric.WithDescription("Number of active WebSocket connections"))
	}
	if err == nil {
		m.connectionDuration, err = meter.Float64Histogram("websocket_connection_duration_seconds",
			metric.WithDescription("Duration of WebSocket connections"),
			metric.WithUnit("s"))
	}
	counter(&m.messagesTotal, "websocket_messages_total", "Total number of WebSocket messages")
	counter(&m.messageBytes, "websocket_message_bytes_total", "Total bytes of WebSocket messages")
	counter(&m.droppedMessages, "websocket_dropped_messages_total", "Messages dropped because a queue was full")
	counter(&m.broadcasts, "websocket_broadcasts_total", "Total number of broadcast operations")

	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) message(ctx context.Context, direction string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), attrs)
}

func (m *Metrics) dropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) broadcast(ctx context.Context, messageType string, delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.Int("delivered", delivered),
		attribute.Bool("partial", failed > 0),
	))
}
