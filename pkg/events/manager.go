package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// listenTimeout bounds how long a task's first subscriber may wait for
// LISTEN to become active. Without it a stalled LISTEN connection would
// hang the accepting handler indefinitely.
const listenTimeout = 10 * time.Second

// ConnectionManager tracks the WebSocket subscribers of each task. One
// instance per process; events published on other replicas arrive through
// the NotifyListener, which hands them to Broadcast.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Subscriptions: NOTIFY channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection is one WebSocket subscriber. It is bound to a single task for
// its whole lifetime; the channel never changes after the handshake.
type Connection struct {
	ID      string
	TaskID  string
	Conn    *websocket.Conn
	channel string
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager with the given
// per-message write timeout.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// SetListener wires the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both sides exist. Without a listener the
// manager still fans out locally broadcast events (single-process mode).
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection serves one subscriber socket for a task. Called by the
// WebSocket HTTP handler after upgrade; blocks until the client goes away.
//
// The subscription is activated first, then confirmed with a
// connection_established message, so an event published after the client
// sees the confirmation cannot be missed. Every inbound message is a
// keepalive; none is answered. A terminal progress event does not close
// the socket, and a disconnect only removes the subscription — it never
// cancels the task.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, taskID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:      uuid.New().String(),
		TaskID:  taskID,
		Conn:    conn,
		channel: TaskChannel(taskID),
		ctx:     ctx,
		cancel:  cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	if err := m.subscribe(c); err != nil {
		m.sendJSON(c, map[string]string{
			"type":    TypeError,
			"task_id": taskID,
			"message": "订阅任务进度失败",
		})
		return
	}

	m.sendJSON(c, EstablishedPayload{
		Type:    TypeConnectionEstablished,
		TaskID:  taskID,
		Message: "WebSocket 连接已建立",
	})

	// Keepalive read loop: inbound content is ignored, a read error means
	// the client is gone.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends an event payload to every connection subscribed to the
// given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. Holding mu.RLock during writes (up to writeTimeout per
	// connection) would stall register/unregister.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "task_id", conn.TaskID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// subscribe adds the connection to its task channel and starts LISTEN when
// it is the channel's first subscriber. LISTEN is synchronous so subscribe
// only returns once events can actually flow.
func (m *ConnectionManager) subscribe(c *Connection) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[c.channel]; !exists {
		m.channels[c.channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[c.channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, c.channel); err != nil {
				slog.Error("Failed to LISTEN on task channel",
					"channel", c.channel, "error", err)
				m.dropFailedChannel(c)
				return fmt.Errorf("LISTEN on channel %s: %w", c.channel, err)
			}
		}
	}
	return nil
}

// dropFailedChannel removes every subscriber of the connection's channel
// after a LISTEN failure. Connections that arrived while LISTEN was in
// flight saw an existing channel entry, skipped LISTEN, and were confirmed —
// but no events will ever reach them. Each one gets an error message and
// its read loop is cancelled so it unregisters itself; the triggering
// connection is notified by the caller through the returned error.
func (m *ConnectionManager) dropFailedChannel(triggering *Connection) {
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[triggering.channel]))
	for connID := range m.channels[triggering.channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, triggering.channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("Dropping subscriber after LISTEN failure",
			"connection_id", conn.ID, "task_id", conn.TaskID)
		m.sendJSON(conn, map[string]string{
			"type":    TypeError,
			"task_id": conn.TaskID,
			"message": "任务进度订阅已失效，请重新连接",
		})
		conn.cancel()
	}
}

// unsubscribe removes the connection from its channel and stops LISTEN when
// the last subscriber leaves. The UNLISTEN goroutine re-checks m.channels
// first: a client that reconnects immediately (page reload) re-adds the
// channel before the goroutine runs, and an UNLISTEN issued then would
// silence the fresh subscription.
func (m *ConnectionManager) unsubscribe(c *Connection) {
	m.channelMu.Lock()
	if subs, exists := m.channels[c.channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, c.channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[c.channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), c.channel); err != nil {
						slog.Error("Failed to UNLISTEN task channel",
							"channel", c.channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and its subscription.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.unsubscribe(c)

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
