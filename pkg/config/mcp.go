package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MCPServerConfig defines MCP server configuration
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `json:"-" yaml:"transport" validate:"required"`

	// Instructions for LLM when using this server's tools
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// Disabled servers are kept in config but never dialed
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Data masking configuration applied to tool results
	DataMasking *MaskingConfig `json:"data_masking,omitempty" yaml:"data_masking,omitempty"`
}

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For streamable_http/sse transport
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout int               `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig defines data masking configuration for tool results
type MaskingConfig struct {
	Enabled        bool             `json:"enabled" yaml:"enabled"`
	PatternGroups  []string         `json:"pattern_groups,omitempty" yaml:"pattern_groups,omitempty"`
	Patterns       []string         `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `json:"custom_patterns,omitempty" yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `json:"pattern" yaml:"pattern" validate:"required"`
	Replacement string `json:"replacement" yaml:"replacement" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// mcpServersFile is the on-disk JSON shape (Claude-desktop style):
//
//	{"mcpServers": {"name": {"command": ..., "args": [...], "env": {...}}}}
//	{"mcpServers": {"name": {"url": ..., "transport": "streamable_http", "headers": {...}}}}
type mcpServersFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Transport string            `json:"transport,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timeout   int               `json:"timeout,omitempty"`

	// Enabled is a pointer so an absent key means enabled. The legacy
	// disabled key is still honored.
	Enabled      *bool  `json:"enabled,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// LoadMCPServersJSON parses the MCP servers JSON config file into server
// configurations. A missing file is not an error: external tools are
// optional and the bridge starts with zero servers.
func LoadMCPServersJSON(path string) (map[string]*MCPServerConfig, error) {
	if path == "" {
		return map[string]*MCPServerConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*MCPServerConfig{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	// Reuse the template-based env expansion so tokens stay out of the file
	data = ExpandEnv(data)

	var file mcpServersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}

	servers := make(map[string]*MCPServerConfig, len(file.MCPServers))
	for name, entry := range file.MCPServers {
		cfg := &MCPServerConfig{
			Instructions: entry.Instructions,
			Disabled:     entry.Disabled || (entry.Enabled != nil && !*entry.Enabled),
		}
		switch {
		case entry.Command != "":
			cfg.Transport = TransportConfig{
				Type:    TransportTypeStdio,
				Command: entry.Command,
				Args:    entry.Args,
				Env:     entry.Env,
			}
		case entry.URL != "":
			t := TransportTypeHTTP
			if entry.Transport == string(TransportTypeSSE) {
				t = TransportTypeSSE
			}
			cfg.Transport = TransportConfig{
				Type:    t,
				URL:     entry.URL,
				Headers: entry.Headers,
				Timeout: entry.Timeout,
			}
		default:
			return nil, NewValidationError("mcp_server", name, "transport",
				fmt.Errorf("%w: needs either command or url", ErrMissingRequiredField))
		}
		servers[name] = cfg
	}

	return servers, nil
}

// MCPConfig holds the bridge-level settings plus parsed server configs.
type MCPConfig struct {
	// ConfigFile is the path to the servers JSON (Claude-desktop style).
	ConfigFile string `yaml:"config_file,omitempty"`

	// HealthCheckInterval is how often the health monitor probes sessions.
	HealthCheckInterval int `yaml:"health_check_interval,omitempty"` // seconds

	// Servers is populated from ConfigFile at load time.
	Servers map[string]*MCPServerConfig `yaml:"-"`
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Replace swaps the full server set. Used by the bridge when the servers
// file is re-read on a config reload.
func (r *MCPServerRegistry) Replace(servers map[string]*MCPServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if servers == nil {
		servers = map[string]*MCPServerConfig{}
	}
	r.servers = servers
}

// SetDisabled flips the disabled flag for a server in memory. The on-disk
// config is untouched, so a reload restores the file's value. Returns
// false when the server is not registered.
//
// Callers must serialize SetDisabled with readers of the same config
// (the bridge does this under its control mutex).
func (r *MCPServerRegistry) SetDisabled(serverID string, disabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, exists := r.servers[serverID]
	if !exists {
		return false
	}
	server.Disabled = disabled
	return true
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of MCP servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerIDs returns all registered server IDs (thread-safe)
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	return ids
}
