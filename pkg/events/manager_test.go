package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestManager serves WebSocket upgrades at /ws/task/{task_id}. No
// NotifyListener is wired, so Broadcast is driven directly by the tests.
func setupTestManager(t *testing.T) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(5 * time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/ws/task/")
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, taskID)
	}))

	t.Cleanup(func() { server.Close() })
	return manager, server
}

func connectTask(t *testing.T, server *httptest.Server, taskID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "/ws/task/" + taskID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// expectNoMessage asserts that nothing arrives within the window.
func expectNoMessage(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}

func TestConnectionManager_ConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t)
	conn := connectTask(t, server, "task-1")

	msg := readJSON(t, conn)
	assert.Equal(t, TypeConnectionEstablished, msg["type"])
	assert.Equal(t, "task-1", msg["task_id"])
	assert.NotEmpty(t, msg["message"])
}

func TestConnectionManager_BroadcastToSubscriber(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectTask(t, server, "task-1")
	readJSON(t, conn) // connection_established

	payload, _ := json.Marshal(map[string]any{"type": TypeProgress, "task_id": "task-1", "progress": 30.0})
	manager.Broadcast(TaskChannel("task-1"), payload)

	msg := readJSON(t, conn)
	assert.Equal(t, TypeProgress, msg["type"])
	assert.Equal(t, 30.0, msg["progress"])
}

func TestConnectionManager_FanOutToAllSubscribers(t *testing.T) {
	manager, server := setupTestManager(t)

	conn1 := connectTask(t, server, "task-1")
	conn2 := connectTask(t, server, "task-1")
	readJSON(t, conn1)
	readJSON(t, conn2)

	payload, _ := json.Marshal(map[string]string{"type": TypeProgress, "task_id": "task-1"})
	manager.Broadcast(TaskChannel("task-1"), payload)

	assert.Equal(t, TypeProgress, readJSON(t, conn1)["type"])
	assert.Equal(t, TypeProgress, readJSON(t, conn2)["type"])
}

func TestConnectionManager_TaskIsolation(t *testing.T) {
	manager, server := setupTestManager(t)

	conn1 := connectTask(t, server, "task-1")
	conn2 := connectTask(t, server, "task-2")
	readJSON(t, conn1)
	readJSON(t, conn2)

	payload, _ := json.Marshal(map[string]string{"type": TypeProgress, "task_id": "task-1"})
	manager.Broadcast(TaskChannel("task-1"), payload)

	msg := readJSON(t, conn1)
	assert.Equal(t, "task-1", msg["task_id"])

	// The other task's subscriber must see nothing.
	expectNoMessage(t, conn2)
}

func TestConnectionManager_PerSubscriberOrdering(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectTask(t, server, "task-1")
	readJSON(t, conn)

	for i := 0; i < 20; i++ {
		payload, _ := json.Marshal(map[string]any{"type": TypeProgress, "seq": i})
		manager.Broadcast(TaskChannel("task-1"), payload)
	}

	for i := 0; i < 20; i++ {
		msg := readJSON(t, conn)
		assert.Equal(t, float64(i), msg["seq"])
	}
}

func TestConnectionManager_InboundIsKeepaliveOnly(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectTask(t, server, "task-1")
	readJSON(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Heartbeats of any shape are accepted and never answered.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))

	// The connection stays subscribed: the next broadcast comes through,
	// and it is the first thing the client sees (no ack preceded it).
	payload, _ := json.Marshal(map[string]string{"type": TypeProgress})
	manager.Broadcast(TaskChannel("task-1"), payload)

	msg := readJSON(t, conn)
	assert.Equal(t, TypeProgress, msg["type"])
}

func TestConnectionManager_TerminalEventKeepsSocketOpen(t *testing.T) {
	manager, server := setupTestManager(t)
	conn := connectTask(t, server, "task-1")
	readJSON(t, conn)

	terminal, _ := json.Marshal(map[string]any{"type": TypeProgress, "status": "completed", "progress": 100.0})
	manager.Broadcast(TaskChannel("task-1"), terminal)

	msg := readJSON(t, conn)
	assert.Equal(t, "completed", msg["status"])

	// The server leaves the socket open after a terminal event; a further
	// broadcast still reaches the client.
	late, _ := json.Marshal(map[string]string{"type": TypeProgress})
	manager.Broadcast(TaskChannel("task-1"), late)
	assert.Equal(t, TypeProgress, readJSON(t, conn)["type"])

	assert.Equal(t, 1, manager.ActiveConnections())
}

func TestConnectionManager_CleanupOnDisconnect(t *testing.T) {
	manager, server := setupTestManager(t)

	url := "ws" + server.URL[len("http"):] + "/ws/task/task-1"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	_, _, err = conn.Read(ctx) // connection_established
	require.NoError(t, err)

	require.Equal(t, 1, manager.ActiveConnections())
	require.Equal(t, 1, manager.subscriberCount(TaskChannel("task-1")))

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, manager.subscriberCount(TaskChannel("task-1")))

	// Broadcast to the emptied channel must not panic.
	payload, _ := json.Marshal(map[string]string{"type": TypeProgress})
	assert.NotPanics(t, func() {
		manager.Broadcast(TaskChannel("task-1"), payload)
	})
}

func TestConnectionManager_BroadcastToUnknownChannel(t *testing.T) {
	manager, _ := setupTestManager(t)

	payload, _ := json.Marshal(map[string]string{"type": TypeProgress})
	assert.NotPanics(t, func() {
		manager.Broadcast(TaskChannel("no-such-task"), payload)
	})
}

func TestConnectionManager_SetListener(t *testing.T) {
	manager := NewConnectionManager(5 * time.Second)
	assert.Nil(t, manager.listener)

	listener := NewNotifyListener("host=localhost", manager)
	manager.SetListener(listener)

	manager.listenerMu.RLock()
	assert.Equal(t, listener, manager.listener)
	manager.listenerMu.RUnlock()
}
