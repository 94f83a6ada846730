package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantflow/argus/pkg/config"
)

// ErrRestartBudgetExhausted is returned when a server has been manually
// restarted too many times inside the rolling window.
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

// RestartServer tears down one server's session and dials it again.
// Restarts are operator-initiated and budgeted: at most restartBudget
// per server inside the rolling restartWindow, so a flapping server
// cannot be hammered back up in a loop.
func (b *Bridge) RestartServer(ctx context.Context, serverID string) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	cfg, err := b.registry.Get(serverID)
	if err != nil {
		return err
	}
	if cfg.Disabled {
		return fmt.Errorf("server %q is disabled", serverID)
	}
	if !b.consumeRestartBudget(serverID) {
		return fmt.Errorf("%w: server %q already restarted %d times in %s",
			ErrRestartBudgetExhausted, serverID, restartBudget, restartWindow)
	}

	b.logger.Info("Restarting MCP server", "server", serverID)
	b.teardownServer(serverID)
	if err := b.dialServerLocked(ctx, serverID, cfg); err != nil {
		return fmt.Errorf("restart of %q failed: %w", serverID, err)
	}
	return nil
}

// consumeRestartBudget records one restart attempt and reports whether
// it is still within the rolling window. Failed dials count too: a
// server that will not come up should not get unlimited attempts.
func (b *Bridge) consumeRestartBudget(serverID string) bool {
	b.restartMu.Lock()
	defer b.restartMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	recent := b.restarts[serverID][:0]
	for _, t := range b.restarts[serverID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= restartBudget {
		b.restarts[serverID] = recent
		return false
	}
	b.restarts[serverID] = append(recent, now)
	return true
}

// ToggleServer enables or disables one server at runtime. Disabling
// closes its session immediately; enabling dials it on the spot. The
// on-disk config is untouched, so a later reload restores the file's
// flags.
func (b *Bridge) ToggleServer(ctx context.Context, serverID string, enabled bool) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if !b.registry.SetDisabled(serverID, !enabled) {
		return fmt.Errorf("%w: %s", config.ErrMCPServerNotFound, serverID)
	}

	if !enabled {
		b.teardownServer(serverID)
		b.setState(serverID, StatusStopped, "", 0)
		b.logger.Info("MCP server disabled", "server", serverID)
		return nil
	}

	if b.session(serverID) != nil {
		return nil
	}
	cfg, err := b.registry.Get(serverID)
	if err != nil {
		return err
	}
	b.logger.Info("MCP server enabled", "server", serverID)
	return b.dialServerLocked(ctx, serverID, cfg)
}

// ReloadConfig tears down every connection, re-reads the servers file
// and dials the new set. In-memory toggles do not survive: the file's
// enabled flags win. A file that fails to parse leaves the bridge with
// no connections rather than a half-applied mix of old and new servers.
func (b *Bridge) ReloadConfig(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	b.logger.Info("Reloading MCP servers config", "config_file", b.configFile)
	b.closeAllLocked()

	b.mu.Lock()
	b.states = make(map[string]*ServerState)
	b.mu.Unlock()

	if b.configFile != "" {
		servers, err := config.LoadMCPServersJSON(b.configFile)
		if err != nil {
			return fmt.Errorf("reload MCP servers config: %w", err)
		}
		b.registry.Replace(servers)
	}

	return b.initializeLocked(ctx)
}
