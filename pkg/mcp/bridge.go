// Package mcp bridges external MCP (Model Context Protocol) tool servers
// into the tool registry. Connections are application-scoped: every
// enabled server is dialed once at startup and shared by all tasks until
// an explicit reload, toggle or restart tears it down.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/tools"
	"github.com/quantflow/argus/pkg/version"
)

// Compile-time check that Bridge satisfies the registry's external seam.
var _ tools.ExternalSource = (*Bridge)(nil)

// ConnectFunc dials one server and returns the live session plus the
// stdio child PID (0 for network transports).
type ConnectFunc func(ctx context.Context, serverID string, cfg *config.MCPServerConfig) (*mcpsdk.ClientSession, int, error)

// Bridge owns the MCP sessions, the per-server state machine and the
// cached tool lists. Control operations (reload, toggle, restart,
// shutdown) serialize through opMu so a reload can never interleave
// with a toggle halfway through teardown.
type Bridge struct {
	registry   *config.MCPServerRegistry
	configFile string

	connect ConnectFunc

	opMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	pids     map[string]int // serverID → stdio process group leader
	states   map[string]*ServerState

	toolMu    sync.RWMutex
	toolCache map[string][]tools.ExternalTool

	restartMu sync.Mutex
	restarts  map[string][]time.Time

	logger *slog.Logger
}

// NewBridge creates the bridge. configFile is the servers JSON path,
// re-read on ReloadConfig; empty means reloads keep the registry's
// current contents.
func NewBridge(registry *config.MCPServerRegistry, configFile string) *Bridge {
	b := &Bridge{
		registry:   registry,
		configFile: configFile,
		sessions:   make(map[string]*mcpsdk.ClientSession),
		pids:       make(map[string]int),
		states:     make(map[string]*ServerState),
		toolCache:  make(map[string][]tools.ExternalTool),
		restarts:   make(map[string][]time.Time),
		logger:     slog.Default().With("component", "mcp"),
	}
	b.connect = b.dialTransport
	return b
}

// InitializeConnections dials every enabled server and caches its tool
// list. One server failing to come up never blocks the others: the
// failure is recorded as unreachable and startup continues. Disabled
// servers are registered as stopped and never dialed.
func (b *Bridge) InitializeConnections(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.initializeLocked(ctx)
}

func (b *Bridge) initializeLocked(ctx context.Context) error {
	for serverID, cfg := range b.registry.GetAll() {
		if cfg.Disabled {
			b.setState(serverID, StatusStopped, "", 0)
			continue
		}
		b.setState(serverID, StatusUnknown, "", 0)
		_ = b.dialServerLocked(ctx, serverID, cfg)
	}

	b.logger.Info("MCP bridge initialized",
		"servers", b.registry.Len(), "tools", b.externalToolCount())
	return nil
}

// dialServerLocked connects one server, refreshes its tool cache and
// records the resulting state. Caller holds opMu.
func (b *Bridge) dialServerLocked(ctx context.Context, serverID string, cfg *config.MCPServerConfig) error {
	session, pid, err := b.connect(ctx, serverID, cfg)
	if err != nil {
		b.setState(serverID, StatusUnreachable, err.Error(), 0)
		b.logger.Warn("MCP server connection failed", "server", serverID, "error", err)
		return err
	}

	b.mu.Lock()
	b.sessions[serverID] = session
	if pid > 0 {
		b.pids[serverID] = pid
	}
	b.mu.Unlock()

	count, err := b.refreshTools(ctx, serverID, session)
	if err != nil {
		// A session that answers the handshake but not tools/list is
		// useless to agents; treat it as a failed dial.
		b.teardownServer(serverID)
		b.setState(serverID, StatusUnreachable, err.Error(), 0)
		b.logger.Warn("MCP server connection failed", "server", serverID, "error", err)
		return err
	}

	b.setState(serverID, StatusHealthy, "", count)
	b.logger.Info("MCP server connected", "server", serverID, "tools", count)
	return nil
}

// dialTransport is the production connect path: build the transport from
// config and run the MCP handshake.
func (b *Bridge) dialTransport(ctx context.Context, serverID string, cfg *config.MCPServerConfig) (*mcpsdk.ClientSession, int, error) {
	transport, cmd, err := createTransport(cfg.Transport)
	if err != nil {
		return nil, 0, fmt.Errorf("create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// The SDK closes the underlying connection on most failure
		// paths; closing here too covers transports that leak a child
		// process when the handshake dies early.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, 0, fmt.Errorf("connect to %q: %w", serverID, err)
	}

	pid := 0
	if cmd != nil && cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	return session, pid, nil
}

// teardownServer closes one server's session, signals its stdio process
// group and drops its cached tools. State is left to the caller: toggle
// marks stopped, restart re-dials, reload clears everything.
func (b *Bridge) teardownServer(serverID string) {
	b.mu.Lock()
	session := b.sessions[serverID]
	pid := b.pids[serverID]
	delete(b.sessions, serverID)
	delete(b.pids, serverID)
	b.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			b.logger.Debug("MCP session close failed", "server", serverID, "error", err)
		}
	}
	if err := terminateProcessGroup(pid); err != nil {
		b.logger.Debug("MCP process group signal failed",
			"server", serverID, "pid", pid, "error", err)
	}

	b.toolMu.Lock()
	delete(b.toolCache, serverID)
	b.toolMu.Unlock()
}

// Close tears down every session and signals all tracked stdio process
// groups. Safe to call more than once.
func (b *Bridge) Close() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	b.closeAllLocked()
	return nil
}

func (b *Bridge) closeAllLocked() {
	b.mu.Lock()
	sessions := b.sessions
	pids := b.pids
	b.sessions = make(map[string]*mcpsdk.ClientSession)
	b.pids = make(map[string]int)
	b.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			b.logger.Debug("MCP session close failed", "server", id, "error", err)
		}
	}
	// Closing the session ends the stdio child, but not workers the
	// child spawned; the SIGTERM goes to the whole process group.
	for id, pid := range pids {
		if err := terminateProcessGroup(pid); err != nil {
			b.logger.Debug("MCP process group signal failed",
				"server", id, "pid", pid, "error", err)
		}
	}

	b.toolMu.Lock()
	b.toolCache = make(map[string][]tools.ExternalTool)
	b.toolMu.Unlock()

	if len(sessions) > 0 {
		b.logger.Info("MCP connections closed", "servers", len(sessions))
	}
}

// ServerStates returns a snapshot of every registered server's state.
func (b *Bridge) ServerStates() map[string]*ServerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*ServerState, len(b.states))
	for id, st := range b.states {
		cp := *st
		out[id] = &cp
	}
	return out
}

func (b *Bridge) setState(serverID string, status ServerStatus, errMsg string, toolCount int) {
	b.mu.Lock()
	b.states[serverID] = &ServerState{
		ServerID:  serverID,
		Status:    status,
		Error:     errMsg,
		ToolCount: toolCount,
		LastCheck: time.Now(),
	}
	b.mu.Unlock()
}

// markUnreachable flips a server's state after a failed call or probe.
// Servers that left the registry on a config reload are not resurrected
// by a stale failure.
func (b *Bridge) markUnreachable(serverID, errMsg string) {
	if !b.registry.Has(serverID) {
		return
	}
	b.setState(serverID, StatusUnreachable, errMsg, 0)
}

func (b *Bridge) session(serverID string) *mcpsdk.ClientSession {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[serverID]
}

// connectedServers lists servers that currently hold a session, in
// stable order.
func (b *Bridge) connectedServers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) externalToolCount() int {
	b.toolMu.RLock()
	defer b.toolMu.RUnlock()
	n := 0
	for _, list := range b.toolCache {
		n += len(list)
	}
	return n
}
