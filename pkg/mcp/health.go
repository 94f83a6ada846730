package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ServerStatus is the lifecycle state of one configured MCP server.
type ServerStatus string

const (
	// StatusUnknown means the server is registered but not yet dialed.
	StatusUnknown ServerStatus = "unknown"
	// StatusHealthy means the session is up and answering probes.
	StatusHealthy ServerStatus = "healthy"
	// StatusUnreachable means the dial or a probe failed; the server
	// stays down until an operator restarts it or reloads the config.
	StatusUnreachable ServerStatus = "unreachable"
	// StatusStopped means the server is disabled by config or toggle.
	StatusStopped ServerStatus = "stopped"
)

// ServerState is the admin-facing view of one server.
type ServerState struct {
	ServerID  string       `json:"server_id"`
	Status    ServerStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	ToolCount int          `json:"tool_count"`
	LastCheck time.Time    `json:"last_check"`
}

// HealthMonitor periodically probes connected servers by refreshing
// their tool lists. It only observes: a failed probe marks the server
// unreachable, and nothing here ever dials a connection back up.
type HealthMonitor struct {
	bridge        *Bridge
	checkInterval time.Duration
	pingTimeout   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over the bridge's sessions.
// checkInterval at or below zero selects the default.
func NewHealthMonitor(bridge *Bridge, checkInterval time.Duration) *HealthMonitor {
	if checkInterval <= 0 {
		checkInterval = defaultHealthInterval
	}
	return &HealthMonitor{
		bridge:        bridge,
		checkInterval: checkInterval,
		pingTimeout:   healthPingTimeout,
		logger:        slog.Default().With("component", "mcp.health"),
	}
}

// Start launches the probe loop. Calling Start on a running monitor is
// a no-op. After Stop, Start may be called again.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)

	m.logger.Info("MCP health monitor started", "interval", m.checkInterval)
}

// Stop halts the loop and waits for any in-flight check to finish.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.logger.Info("MCP health monitor stopped")
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll probes every server that currently holds a session. Stopped
// servers and servers whose dial failed keep their recorded state until
// an operator intervenes.
func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, serverID := range m.bridge.connectedServers() {
		if ctx.Err() != nil {
			return
		}
		m.checkServer(ctx, serverID)
	}
}

// checkServer refreshes one server's tool list as a liveness probe. A
// probe racing a config reload can briefly mark a just-redialed server
// unreachable; the next cycle corrects it.
func (m *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	session := m.bridge.session(serverID)
	if session == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	count, err := m.bridge.refreshTools(probeCtx, serverID, session)
	if err != nil {
		m.bridge.markUnreachable(serverID, err.Error())
		m.logger.Warn("MCP server unreachable", "server", serverID, "error", err)
		return
	}
	m.bridge.setState(serverID, StatusHealthy, "", count)
}
