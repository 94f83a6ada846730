package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession wires a pre-connected MCP SDK session into the bridge,
// bypassing the transport dial path. Intended for test infrastructure
// running in-memory MCP servers.
func (b *Bridge) InjectSession(ctx context.Context, serverID string, session *mcpsdk.ClientSession) error {
	b.mu.Lock()
	b.sessions[serverID] = session
	b.mu.Unlock()

	count, err := b.refreshTools(ctx, serverID, session)
	if err != nil {
		return err
	}
	b.setState(serverID, StatusHealthy, "", count)
	return nil
}

// SetConnectFunc replaces the transport dial path, letting tests hand
// the bridge in-memory sessions through the normal initialize, restart
// and reload flows.
func (b *Bridge) SetConnectFunc(fn ConnectFunc) {
	b.connect = fn
}
