// Package events defines the messages pushed to WebSocket clients while runs
// progress.
package events

import (
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Run lifecycle
	MessageTypeRunStatus   MessageType = "run:status"
	MessageTypeRunProgress MessageType = "run:progress"
	MessageTypeRunComplete MessageType = "run:complete"
	MessageTypeRunError    MessageType = "run:error"

	MessageTypeConnect MessageType = "connect"
)

// BaseMessage represents the base structure for all WebSocket messages
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// WebSocketMessage represents a complete WebSocket message
type WebSocketMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// NewMessage stamps a message with a fresh ID and the current time
func NewMessage(t MessageType, traceID string, data interface{}) WebSocketMessage {
	return WebSocketMessage{
		BaseMessage: BaseMessage{
			ID:        uuid.New().String(),
			Type:      t,
			Timestamp: time.Now().UTC(),
			TraceID:   traceID,
		},
		Data: data,
	}
}

// ConnectData greets a freshly registered client
type ConnectData struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Version  string `json:"version,omitempty"`
}

// RunProgress reports one step transition of a run. Progress is in [0, 100].
type RunProgress struct {
	RunID    string  `json:"run_id"`
	StepID   string  `json:"step_id,omitempty"`
	Status   string  `json:"status,omitempty"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
	ETA      string  `json:"eta,omitempty"`
}
