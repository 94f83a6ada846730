package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigDir creates a config directory with the given argus.yaml and
// llm-providers.yaml contents.
func writeConfigDir(t *testing.T, argusYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "argus.yaml"), []byte(argusYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  test-provider:
    model: test-model
    api_key_env: TEST_API_KEY
    base_url: http://localhost:9999/v1
`

func TestInitializeMinimalConfig(t *testing.T) {
	dir := writeConfigDir(t, `
default_llm_provider: test-provider
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Defaults applied
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Tasks.MaxConcurrentTasks)
	assert.Equal(t, 10, cfg.Tasks.MaxBatchSize)
	assert.True(t, cfg.Market.WriteThrough)
	assert.True(t, cfg.Market.Tushare.Enabled)
	assert.Equal(t, "https://api.tushare.pro", cfg.Market.Tushare.BaseURL)
	assert.Equal(t, "test-provider", cfg.DefaultLLMProvider)

	// Built-in providers merged with user ones
	assert.True(t, cfg.LLMProviderRegistry.Has("test-provider"))
	assert.True(t, cfg.LLMProviderRegistry.Has("dashscope-default"))
}

func TestInitializeMissingConfigFile(t *testing.T) {
	dir := t.TempDir() // empty: no argus.yaml

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeOverrides(t *testing.T) {
	dir := writeConfigDir(t, `
server:
  host: 127.0.0.1
  port: 9000
  admin_user_id: ops
tasks:
  max_concurrent_tasks: 2
  max_batch_size: 4
  task_timeout: 5m
market:
  default_china_source: akshare
  write_through: false
  tushare:
    enabled: false
data:
  reports_dir: /tmp/argus-results
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "ops", cfg.Server.AdminUserID)

	assert.Equal(t, 2, cfg.Tasks.MaxConcurrentTasks)
	assert.Equal(t, 4, cfg.Tasks.MaxBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Tasks.TaskTimeout)
	// Unset fields keep defaults after merge
	assert.Equal(t, 2*time.Second, cfg.Tasks.ProgressFlushInterval)

	assert.Equal(t, "akshare", cfg.Market.DefaultChinaSource)
	assert.False(t, cfg.Market.WriteThrough)
	assert.False(t, cfg.Market.Tushare.Enabled)
	// Adapters not mentioned keep their defaults
	assert.True(t, cfg.Market.AKShare.Enabled)

	assert.Equal(t, "/tmp/argus-results", cfg.Data.ReportsDir)
}

func TestInitializeEnvOverridesBeatYAML(t *testing.T) {
	t.Setenv("DEFAULT_CHINA_DATA_SOURCE", "baostock")
	t.Setenv("AGENT_CONFIG_DIR", "/etc/argus/agents")

	dir := writeConfigDir(t, `
market:
  default_china_source: tushare
data:
  agent_config_dir: ./config/agents
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "baostock", cfg.Market.DefaultChinaSource)
	assert.Equal(t, "/etc/argus/agents", cfg.Data.AgentConfigDir)
}

func TestInitializeEnvExpansionInYAML(t *testing.T) {
	t.Setenv("ARGUS_TEST_PORT", "8123")

	dir := writeConfigDir(t, `
server:
  port: {{.ARGUS_TEST_PORT}}
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestInitializeMCPServersJSON(t *testing.T) {
	dir := writeConfigDir(t, `
mcp:
  config_file: mcp_servers.json
`, minimalProvidersYAML)

	mcpJSON := `{
  "mcpServers": {
    "finance-tools": {
      "command": "uvx",
      "args": ["finance-mcp"],
      "env": {"LANG": "zh_CN.UTF-8"}
    },
    "remote-research": {
      "url": "https://mcp.example.com/stream",
      "transport": "streamable_http",
      "headers": {"Authorization": "Bearer xyz"}
    },
    "legacy-sse": {
      "url": "https://mcp.example.com/sse",
      "transport": "sse",
      "disabled": true
    },
    "paused-tools": {
      "command": "uvx",
      "args": ["paused-mcp"],
      "enabled": false
    }
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp_servers.json"), []byte(mcpJSON), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	require.Equal(t, 4, cfg.MCPServerRegistry.Len())

	stdio, err := cfg.GetMCPServer("finance-tools")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeStdio, stdio.Transport.Type)
	assert.Equal(t, "uvx", stdio.Transport.Command)
	assert.Equal(t, []string{"finance-mcp"}, stdio.Transport.Args)

	http, err := cfg.GetMCPServer("remote-research")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeHTTP, http.Transport.Type)
	assert.Equal(t, "https://mcp.example.com/stream", http.Transport.URL)
	assert.Equal(t, "Bearer xyz", http.Transport.Headers["Authorization"])

	sse, err := cfg.GetMCPServer("legacy-sse")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeSSE, sse.Transport.Type)
	assert.True(t, sse.Disabled)

	paused, err := cfg.GetMCPServer("paused-tools")
	require.NoError(t, err)
	assert.True(t, paused.Disabled)
}

func TestInitializeMCPServersFileOptional(t *testing.T) {
	dir := writeConfigDir(t, `
mcp:
  config_file: does_not_exist.json
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MCPServerRegistry.Len())
}

func TestLoadMCPServersJSONRejectsTransportless(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"broken": {"instructions": "no transport"}}}`), 0o644))

	_, err := LoadMCPServersJSON(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
