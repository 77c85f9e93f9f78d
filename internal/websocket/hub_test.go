package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmmcli/internal/operations"
	"mmmcli/internal/shared/testutil"
	"mmmcli/pkg/contracts/events"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

// connect registers a bare client whose send channel the test reads directly
func connect(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := NewClient(hub, newFakeConn(), "trace-1", hub.logger)
	require.True(t, hub.Register(c))
	require.Eventually(t, func() bool { return hub.ClientCount() >= 1 }, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) events.WebSocketMessage {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg events.WebSocketMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return events.WebSocketMessage{}
	}
}

func TestHub_StartStopIdempotent(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)

	hub.Start()
	hub.Start()
	hub.Stop()
	hub.Stop()

	assert.False(t, hub.Register(NewClient(hub, newFakeConn(), "", logger)))
}

func TestHub_StopWithoutStart(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	hub.Stop()
	hub.Stop()

	done := make(chan bool, 1)
	go func() {
		c := NewClient(hub, newFakeConn(), "", logger)
		ok := hub.Register(c)
		hub.Unregister(c)
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("register on a stopped hub blocked")
	}
}

func TestHub_RegisterSendsConnect(t *testing.T) {
	hub := startHub(t)
	c := connect(t, hub)

	msg := receive(t, c)
	assert.Equal(t, events.MessageTypeConnect, msg.Type)
	assert.Equal(t, "trace-1", msg.TraceID)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, c.ID(), data["client_id"])
	assert.EqualValues(t, 1, hub.Stats()["total_connections"])
}

func TestHub_ReportProgress(t *testing.T) {
	hub := startHub(t)
	c := connect(t, hub)
	receive(t, c)

	var reporter operations.ProgressReporter = hub
	reporter.ReportProgress(context.Background(), operations.ProgressUpdate{
		OperationID: "run-1",
		StepID:      operations.StepIDFit,
		Status:      operations.StepStatusActive,
		Progress:    33,
		Message:     "fitting",
	})
	reporter.ReportProgress(context.Background(), operations.ProgressUpdate{
		OperationID: "run-1",
		StepID:      operations.EventTypeRunComplete,
		Progress:    100,
		Message:     "Run completed",
	})
	reporter.ReportProgress(context.Background(), operations.ProgressUpdate{
		OperationID: "run-2",
		StepID:      operations.EventTypeRunError,
		Message:     "Run failed",
	})

	progress := receive(t, c)
	assert.Equal(t, events.MessageTypeRunProgress, progress.Type)
	data := progress.Data.(map[string]interface{})
	assert.Equal(t, "run-1", data["run_id"])
	assert.Equal(t, operations.StepIDFit, data["step_id"])
	assert.Equal(t, string(operations.StepStatusActive), data["status"])
	assert.EqualValues(t, 33, data["progress"])

	done := receive(t, c)
	assert.Equal(t, events.MessageTypeRunComplete, done.Type)
	assert.NotContains(t, done.Data.(map[string]interface{}), "step_id")

	failed := receive(t, c)
	assert.Equal(t, events.MessageTypeRunError, failed.Type)
	assert.Equal(t, "run-2", failed.Data.(map[string]interface{})["run_id"])
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := startHub(t)
	c := connect(t, hub)

	// The client never drains its buffer, so it overflows eventually.
	require.Eventually(t, func() bool {
		hub.Publish(context.Background(), events.NewMessage(events.MessageTypeRunStatus, "", "tick"))
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
	assert.Positive(t, hub.Stats()["messages_dropped"])

	// The hub closed the channel after the buffered messages.
	for range c.send {
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	hub.Start()

	c := NewClient(hub, newFakeConn(), "", logger)
	require.True(t, hub.Register(c))
	hub.Stop()

	assert.Equal(t, 0, hub.ClientCount())
	receive(t, c)
	_, ok := <-c.send
	assert.False(t, ok)

	// Publishing after stop must not block.
	hub.Publish(context.Background(), events.NewMessage(events.MessageTypeRunStatus, "", nil))
}

func TestClient_Pumps(t *testing.T) {
	hub := startHub(t)
	conn := newFakeConn()
	c := NewClient(hub, conn, "trace-2", hub.logger)
	require.True(t, hub.Register(c))

	go c.WritePump()
	go c.ReadPump()

	hub.ReportProgress(context.Background(), operations.ProgressUpdate{OperationID: "run-9", StepID: operations.StepIDPrepare})
	require.Eventually(t, func() bool { return len(conn.textMessages()) == 2 }, time.Second, 5*time.Millisecond)

	var msg events.WebSocketMessage
	require.NoError(t, json.Unmarshal(conn.textMessages()[1], &msg))
	assert.Equal(t, events.MessageTypeRunProgress, msg.Type)

	// Heartbeats keep the client registered.
	conn.feed(`{"type":"heartbeat"}`)
	assert.Equal(t, 1, hub.ClientCount())

	// Closing the connection ends ReadPump, which unregisters the client
	// and lets WritePump exit.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, conn.sawClose())
}
