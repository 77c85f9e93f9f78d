package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"mmmcli/internal/infrastructure"
	"mmmcli/internal/operations"
	"mmmcli/pkg/contracts"
	"mmmcli/pkg/contracts/events"
)

const broadcastBuffer = 256

type outbound struct {
	kind    events.MessageType
	payload []byte
}

// Hub keeps the set of connected clients and fans run events out to them.
// It implements operations.ProgressReporter so the job queue can publish
// straight into it.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64

	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// NewHub creates a hub. Instruments come from the global meter provider.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	metrics, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Warn("websocket metrics disabled", slog.String("error", err.Error()))
	}

	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in the background. It is a no-op after the first
// call.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.stopped {
		return
	}
	h.running = true
	go h.run()
}

// Stop ends the hub loop and closes every client's send channel, which in
// turn closes their connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		if !h.stopped {
			h.stopped = true
			close(h.quit)
		}
		h.mu.Unlock()
		return
	}
	h.running = false
	h.stopped = true
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client; safe to call after Stop.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters for the health endpoint
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"active_clients":    h.ClientCount(),
		"total_connections": h.totalConnections.Load(),
		"messages_sent":     h.messagesSent.Load(),
		"messages_dropped":  h.messagesDropped.Load(),
		"broadcast_queue":   len(h.broadcast),
	}
}

// Publish queues msg for every client. It never blocks: when the broadcast
// queue is full the message is dropped and counted.
func (h *Hub) Publish(ctx context.Context, msg events.WebSocketMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal websocket message",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- outbound{kind: msg.Type, payload: payload}:
	case <-h.quit:
	default:
		h.messagesDropped.Add(1)
		h.metrics.dropped(ctx, "broadcast_queue_full")
		h.logger.WarnContext(ctx, "broadcast queue full, dropping message",
			slog.String("type", string(msg.Type)))
	}
}

// ReportProgress publishes a run progress update. Terminal updates from the
// job queue carry the completion event in StepID.
func (h *Hub) ReportProgress(ctx context.Context, update operations.ProgressUpdate) {
	kind := events.MessageTypeRunProgress
	data := events.RunProgress{
		RunID:    update.OperationID,
		StepID:   update.StepID,
		Status:   string(update.Status),
		Progress: update.Progress,
		Message:  update.Message,
		ETA:      update.ETA,
	}
	switch update.StepID {
	case operations.EventTypeRunComplete:
		kind = events.MessageTypeRunComplete
		data.StepID = ""
	case operations.EventTypeRunError:
		kind = events.MessageTypeRunError
		data.StepID = ""
	}
	h.Publish(ctx, events.NewMessage(kind, infrastructure.GetTraceID(ctx), data))
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client, "closed")

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.totalConnections.Add(1)

	ctx := client.context()
	h.metrics.connected(ctx)
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("total_clients", count))

	hello := events.NewMessage(events.MessageTypeConnect, client.traceID, events.ConnectData{
		ClientID: client.id,
		Status:   "connected",
		Message:  "Connected to MMM run events",
		Version:  contracts.Version,
	})
	if payload, err := json.Marshal(hello); err == nil {
		select {
		case client.send <- payload:
		default:
		}
	}
}

func (h *Hub) remove(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.disconnected(ctx, time.Since(client.connectedAt))
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Int("total_clients", count))
}

func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered, failed := 0, 0
	for _, c := range clients {
		select {
		case c.send <- msg.payload:
			delivered++
		default:
			failed++
			h.messagesDropped.Add(1)
			h.metrics.dropped(context.Background(), "client_buffer_full")
			h.remove(c, "send buffer full")
		}
	}
	h.messagesSent.Add(int64(delivered))
	h.metrics.broadcast(context.Background(), string(msg.kind), delivered, failed)

	h.logger.Debug("broadcast",
		slog.String("type", string(msg.kind)),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
