package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// fakeServerSet dials in-memory MCP servers in place of real transports.
// Every dial builds a fresh server and transport pair, so restart and
// reload flows can reconnect as often as they like.
type fakeServerSet struct {
	mu    sync.Mutex
	tools map[string]map[string]mcpsdk.ToolHandler
	dials map[string]int
	fail  map[string]bool
}

func newFakeServerSet() *fakeServerSet {
	return &fakeServerSet{
		tools: make(map[string]map[string]mcpsdk.ToolHandler),
		dials: make(map[string]int),
		fail:  make(map[string]bool),
	}
}

func (f *fakeServerSet) addServer(serverID string, tools map[string]mcpsdk.ToolHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[serverID] = tools
}

func (f *fakeServerSet) setFailing(serverID string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[serverID] = failing
}

func (f *fakeServerSet) dialCount(serverID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials[serverID]
}

func (f *fakeServerSet) connect(ctx context.Context, serverID string, _ *config.MCPServerConfig) (*mcpsdk.ClientSession, int, error) {
	f.mu.Lock()
	f.dials[serverID]++
	handlers, known := f.tools[serverID]
	failing := f.fail[serverID]
	f.mu.Unlock()

	if !known || failing {
		return nil, 0, fmt.Errorf("connection refused: %s", serverID)
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: serverID, Version: "test",
	}, nil)
	for toolName, handler := range handlers {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "argus-test", Version: "test",
	}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		return nil, 0, err
	}
	return session, 0, nil
}

func textHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func stdioServerConfig() *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "true"},
	}
}

// newTestBridge builds a bridge over the fake dialer without running
// InitializeConnections.
func newTestBridge(t *testing.T, fake *fakeServerSet, servers map[string]*config.MCPServerConfig) *Bridge {
	t.Helper()

	b := NewBridge(config.NewMCPServerRegistry(servers), "")
	b.SetConnectFunc(fake.connect)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBridge_InitializeConnections(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("AAPL 231.50"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
		"news-feed":   stdioServerConfig(), // not in the fake: dial fails
		"paused":      {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "true"}, Disabled: true},
	})

	// One server failing never blocks startup.
	require.NoError(t, b.InitializeConnections(context.Background()))

	states := b.ServerStates()
	require.Len(t, states, 3)

	require.NotNil(t, states["market-data"])
	assert.Equal(t, StatusHealthy, states["market-data"].Status)
	assert.Equal(t, 1, states["market-data"].ToolCount)
	assert.Empty(t, states["market-data"].Error)

	require.NotNil(t, states["news-feed"])
	assert.Equal(t, StatusUnreachable, states["news-feed"].Status)
	assert.Contains(t, states["news-feed"].Error, "connection refused")

	require.NotNil(t, states["paused"])
	assert.Equal(t, StatusStopped, states["paused"].Status)

	assert.Equal(t, 1, fake.dialCount("market-data"))
	assert.Equal(t, 1, fake.dialCount("news-feed"))
	assert.Equal(t, 0, fake.dialCount("paused"))
}

func TestBridge_ExternalTools(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote":   textHandler("quote"),
		"get_history": textHandler("history"),
	})
	fake.addServer("news-feed", map[string]mcpsdk.ToolHandler{
		"search_news": textHandler("news"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
		"news-feed":   stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	list := b.ExternalTools(context.Background())
	require.Len(t, list, 3)

	// Sorted by server, then tool name.
	assert.Equal(t, "market-data", list[0].Server)
	assert.Equal(t, "get_history", list[0].Name)
	assert.Equal(t, "market-data", list[1].Server)
	assert.Equal(t, "get_quote", list[1].Name)
	assert.Equal(t, "news-feed", list[2].Server)
	assert.Equal(t, "search_news", list[2].Name)

	assert.Equal(t, "test tool: get_quote", list[1].Description)
	assert.Contains(t, list[1].InputSchema, "object")
}

func TestBridge_CallExternalTool(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var parsed map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error: " + err.Error()}},
					IsError: true,
				}, nil
			}
			symbol, _ := parsed["symbol"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "quote for " + symbol + ": 231.50"}},
			}, nil
		},
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	result, err := b.CallExternalTool(context.Background(), "market-data", "get_quote",
		map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "quote for AAPL: 231.50", result)
}

func TestBridge_CallExternalTool_ToolError(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "unknown symbol: ZZZZ"}},
				IsError: true,
			}, nil
		},
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	_, err := b.CallExternalTool(context.Background(), "market-data", "get_quote",
		map[string]any{"symbol": "ZZZZ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market-data.get_quote")
	assert.Contains(t, err.Error(), "unknown symbol: ZZZZ")
}

func TestBridge_CallExternalTool_NoSession(t *testing.T) {
	b := newTestBridge(t, newFakeServerSet(), nil)

	_, err := b.CallExternalTool(context.Background(), "ghost", "get_quote", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}

func TestBridge_CallExternalTool_TruncatesLargeResult(t *testing.T) {
	huge := strings.Repeat("tick 100.00\n", 10000) // ~120KB, past the cap

	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_history": textHandler(huge),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	result, err := b.CallExternalTool(context.Background(), "market-data", "get_history", nil)
	require.NoError(t, err)
	assert.Less(t, len(result), len(huge))
	assert.Contains(t, result, "[输出已截断")
}

func TestBridge_MarkUnreachable(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))

	b.markUnreachable("market-data", "probe failed")
	state := b.ServerStates()["market-data"]
	require.NotNil(t, state)
	assert.Equal(t, StatusUnreachable, state.Status)
	assert.Equal(t, "probe failed", state.Error)

	// A server no longer in the registry is not resurrected.
	b.markUnreachable("ghost", "stale failure")
	assert.NotContains(t, b.ServerStates(), "ghost")
}

func TestBridge_Close(t *testing.T) {
	fake := newFakeServerSet()
	fake.addServer("market-data", map[string]mcpsdk.ToolHandler{
		"get_quote": textHandler("ok"),
	})

	b := newTestBridge(t, fake, map[string]*config.MCPServerConfig{
		"market-data": stdioServerConfig(),
	})
	require.NoError(t, b.InitializeConnections(context.Background()))
	require.Len(t, b.ExternalTools(context.Background()), 1)

	require.NoError(t, b.Close())

	assert.Empty(t, b.ExternalTools(context.Background()))
	_, err := b.CallExternalTool(context.Background(), "market-data", "get_quote", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session")

	// Close is idempotent.
	require.NoError(t, b.Close())
}
