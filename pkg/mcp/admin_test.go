package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

func TestBridge_ToggleServer(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))
	require.Len(t, b.ExternalTools(ctx), 1)

	// Disable: session torn down, tools gone.
	require.NoError(t, b.ToggleServer(ctx, "market-data", false))
	assert.Equal(t, StatusStopped, b.ServerStates()["market-data"].Status)
	assert.Empty(t, b.ExternalTools(ctx))
	assert.Equal(t, 1, fake.dialCount("market-data"))

	_, err := b.CallExternalTool(ctx, "market-data", "get_quote", nil)
	require.Error(t, err)

	// Enable: dialed on the spot.
	require.NoError(t, b.ToggleServer(ctx, "market-data", true))
	assert.Equal(t, StatusHealthy, b.ServerStates()["market-data"].Status)
	assert.Len(t, b.ExternalTools(ctx), 1)
	assert.Equal(t, 2, fake.dialCount("market-data"))
}

func TestBridge_ToggleServer_AlreadyEnabled(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	require.NoError(t, b.ToggleServer(ctx, "market-data", true))
	assert.Equal(t, 1, fake.dialCount("market-data"))
}

func TestBridge_ToggleServer_Unknown(t *testing.T) {
	b := newTestBridge(t, newFakeServerSet(), nil)

	err := b.ToggleServer(context.Background(), "ghost", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMCPServerNotFound)
}

func TestBridge_RestartServer(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))
	require.Equal(t, 1, fake.dialCount("market-data"))

	require.NoError(t, b.RestartServer(ctx, "market-data"))

	assert.Equal(t, 2, fake.dialCount("market-data"))
	assert.Equal(t, StatusHealthy, b.ServerStates()["market-data"].Status)
	assert.Len(t, b.ExternalTools(ctx), 1)
}

func TestBridge_RestartServer_Disabled(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))
	require.NoError(t, b.ToggleServer(ctx, "market-data", false))

	err := b.RestartServer(ctx, "market-data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestBridge_RestartServer_Unknown(t *testing.T) {
	b := newTestBridge(t, newFakeServerSet(), nil)

	err := b.RestartServer(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMCPServerNotFound)
}

func TestBridge_RestartServer_BudgetExhausted(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	for i := 0; i < restartBudget; i++ {
		require.NoError(t, b.RestartServer(ctx, "market-data"))
	}

	err := b.RestartServer(ctx, "market-data")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestartBudgetExhausted)
	assert.Contains(t, err.Error(), "restart budget exhausted")

	// Attempts outside the rolling window no longer count.
	old := time.Now().Add(-restartWindow - time.Minute)
	b.restartMu.Lock()
	b.restarts["market-data"] = []time.Time{old, old, old}
	b.restartMu.Unlock()

	require.NoError(t, b.RestartServer(ctx, "market-data"))
}

func TestBridge_RestartServer_FailedDialsCount(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	fake.setFailing("market-data", true)
	for i := 0; i < restartBudget; i++ {
		err := b.RestartServer(ctx, "market-data")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "restart of")
	}
	assert.Equal(t, StatusUnreachable, b.ServerStates()["market-data"].Status)

	// The server recovers, but the budget is already spent.
	fake.setFailing("market-data", false)
	err := b.RestartServer(ctx, "market-data")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestartBudgetExhausted)
}

func TestBridge_ReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.json")
	writeServersFile(t, path, `{
		"mcpServers": {
			"market-data": {"command": "uvx", "args": ["market-mcp"]}
		}
	}`)

	servers, err := config.LoadMCPServersJSON(path)
	require.NoError(t, err)

	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})
	fake.addServer("news-feed", map[string]mcpsdk.ToolHandler{
		"search_news": textHandler("ok"),
	})

	b := NewBridge(config.NewMCPServerRegistry(servers), path)
	b.SetConnectFunc(fake.connect)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))
	require.Len(t, b.ServerStates(), 1)

	// An in-memory toggle does not survive a reload: the file wins.
	require.NoError(t, b.ToggleServer(ctx, "market-data", false))

	writeServersFile(t, path, `{
		"mcpServers": {
			"market-data": {"command": "uvx", "args": ["market-mcp"]},
			"news-feed": {"command": "uvx", "args": ["news-mcp"]}
		}
	}`)

	require.NoError(t, b.ReloadConfig(ctx))

	states := b.ServerStates()
	require.Len(t, states, 2)
	assert.Equal(t, StatusHealthy, states["market-data"].Status)
	assert.Equal(t, StatusHealthy, states["news-feed"].Status)
	assert.Len(t, b.ExternalTools(ctx), 2)
	assert.Equal(t, 2, fake.dialCount("market-data"))
	assert.Equal(t, 1, fake.dialCount("news-feed"))
}

func TestBridge_ReloadConfig_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.json")
	writeServersFile(t, path, `{
		"mcpServers": {
			"market-data": {"command": "uvx"}
		}
	}`)

	servers, err := config.LoadMCPServersJSON(path)
	require.NoError(t, err)

	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := NewBridge(config.NewMCPServerRegistry(servers), path)
	b.SetConnectFunc(fake.connect)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	writeServersFile(t, path, `{not json`)

	// A broken file leaves the bridge with no connections rather than a
	// half-applied server set.
	require.Error(t, b.ReloadConfig(ctx))
	assert.Empty(t, b.ExternalTools(ctx))
}

func writeServersFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
