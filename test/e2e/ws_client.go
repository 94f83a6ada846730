package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// wsEvent is one message received over a task subscription.
type wsEvent struct {
	Type        string  `json:"type"`
	TaskID      string  `json:"task_id"`
	Node        string  `json:"node,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// WSClient is a test WebSocket subscriber for one task channel.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// dialTask opens a progress subscription for the task.
func (app *TestApp) dialTask(taskID string) *WSClient {
	app.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, app.WSURL+"/analysis/ws/task/"+taskID, nil)
	require.NoError(app.t, err)

	c := &WSClient{conn: conn, t: app.t}
	app.t.Cleanup(c.Close)
	return c
}

// ReadEvent blocks for the next message.
func (c *WSClient) ReadEvent(timeout time.Duration) wsEvent {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err, "reading websocket event")

	var ev wsEvent
	require.NoError(c.t, json.Unmarshal(data, &ev), "event: %s", data)
	return ev
}

// CollectUntilTerminal reads events until one carries a terminal status.
func (c *WSClient) CollectUntilTerminal(timeout time.Duration) []wsEvent {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var events []wsEvent
	for {
		remaining := time.Until(deadline)
		require.Positive(c.t, remaining, "no terminal event within %s (got %d events)", timeout, len(events))
		ev := c.ReadEvent(remaining)
		events = append(events, ev)
		if isTerminal(ev.Status) {
			return events
		}
	}
}

// Close shuts the subscription down. Safe to call twice.
func (c *WSClient) Close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "test done")
}
