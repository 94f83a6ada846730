package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

func TestHealthMonitor_CheckAll_Healthy(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote":   textHandler("ok"),
		"get_history": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	monitor := NewHealthMonitor(b, time.Minute)
	monitor.checkAll(ctx)

	state := b.ServerStates()["market-data"]
	require.NotNil(t, state)
	assert.Equal(t, StatusHealthy, state.Status)
	assert.Equal(t, 2, state.ToolCount)
}

func TestHealthMonitor_MarksUnreachable(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	// Kill the session behind the bridge's back.
	session := b.session("market-data")
	require.NotNil(t, session)
	require.NoError(t, session.Close())

	monitor := NewHealthMonitor(b, time.Minute)
	monitor.checkAll(ctx)

	state := b.ServerStates()["market-data"]
	require.NotNil(t, state)
	assert.Equal(t, StatusUnreachable, state.Status)
	assert.NotEmpty(t, state.Error)

	// The monitor only observes. Reconnecting is an operator action.
	assert.Equal(t, 1, fake.dialCount("market-data"))
}

func TestHealthMonitor_SkipsStoppedServers(t *testing.T) {
	fake := newFakeServerSet()

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"paused": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "true"}, Disabled: true},
	})
	ctx := context.Background()
	require.NoError(t, b.InitializeConnections(ctx))

	monitor := NewHealthMonitor(b, time.Minute)
	monitor.checkAll(ctx)

	state := b.ServerStates()["paused"]
	require.NotNil(t, state)
	assert.Equal(t, StatusStopped, state.Status)
	assert.Equal(t, 0, fake.dialCount("paused"))
}

func TestHealthMonitor_StartStop(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	monitor := NewHealthMonitor(b, time.Hour)
	monitor.Start(context.Background())
	// Second Start is a no-op.
	monitor.Start(context.Background())

	require.Eventually(t, func() bool {
		state := b.ServerStates()["market-data"]
		return state != nil && state.Status == StatusHealthy
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()
	// Stop is idempotent and Start may follow it again.
	monitor.Stop()
	monitor.Start(context.Background())
	monitor.Stop()
}

func TestNewHealthMonitor_DefaultInterval(t *testing.T) {
	b := newTestBridge(t, newFakeServerSet(), nil)

	monitor := NewHealthMonitor(b, 0)
	assert.Equal(t, defaultHealthInterval, monitor.checkInterval)

	monitor = NewHealthMonitor(b, 10*time.Second)
	assert.Equal(t, 10*time.Second, monitor.checkInterval)
}
