package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ArgusYAMLConfig represents the complete argus.yaml file structure
type ArgusYAMLConfig struct {
	Server             *ServerConfig     `yaml:"server"`
	Tasks              *TasksConfig      `yaml:"tasks"`
	Market             *MarketYAMLConfig `yaml:"market"`
	MCP                *MCPConfig        `yaml:"mcp"`
	Slack              *SlackYAMLConfig  `yaml:"slack"`
	Data               *DataConfig       `yaml:"data"`
	DefaultLLMProvider string            `yaml:"default_llm_provider"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply environment overrides (DEFAULT_CHINA_DATA_SOURCE, AGENT_CONFIG_DIR)
//  6. Parse the MCP servers JSON file
//  7. Build in-memory registries
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"mcp_servers", stats.MCPServers,
		"default_provider", cfg.DefaultLLMProvider)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load argus.yaml (server, tasks, market, mcp, slack, data)
	argusConfig, err := loader.loadArgusYAML()
	if err != nil {
		return nil, NewLoadError("argus.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined LLM providers (user overrides built-in)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Resolve sections (defaults + YAML overrides)
	serverCfg := resolveServerConfig(argusConfig.Server)
	marketCfg := resolveMarketConfig(argusConfig.Market)
	slackCfg := resolveSlackConfig(argusConfig.Slack)
	dataCfg := resolveDataConfig(argusConfig.Data)

	// Resolve tasks config (merge user YAML with built-in defaults)
	// Start with defaults, then merge user config on top to preserve unset defaults
	tasksCfg := DefaultTasksConfig()
	if argusConfig.Tasks != nil {
		if err := mergo.Merge(tasksCfg, argusConfig.Tasks, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge tasks config: %w", err)
		}
	}

	// 6. Parse MCP servers JSON
	mcpCfg := argusConfig.MCP
	if mcpCfg == nil {
		mcpCfg = &MCPConfig{}
	}
	if mcpCfg.HealthCheckInterval <= 0 {
		mcpCfg.HealthCheckInterval = 30
	}
	serversPath := mcpCfg.ConfigFile
	if serversPath != "" && !filepath.IsAbs(serversPath) {
		serversPath = filepath.Join(configDir, serversPath)
	}
	// Keep the resolved path: the bridge re-reads it on config reload.
	mcpCfg.ConfigFile = serversPath
	mcpServers, err := LoadMCPServersJSON(serversPath)
	if err != nil {
		return nil, err
	}
	mcpCfg.Servers = mcpServers

	// 7. Build registries
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)

	defaultProvider := argusConfig.DefaultLLMProvider
	if defaultProvider == "" {
		defaultProvider = builtin.DefaultLLMProvider
	}

	return &Config{
		configDir:           configDir,
		Server:              serverCfg,
		Tasks:               tasksCfg,
		Market:              marketCfg,
		MCP:                 mcpCfg,
		Slack:               slackCfg,
		Data:                dataCfg,
		DefaultLLMProvider:  defaultProvider,
		LLMProviderRegistry: llmProviderRegistry,
		MCPServerRegistry:   mcpServerRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadArgusYAML() (*ArgusYAMLConfig, error) {
	var config ArgusYAMLConfig

	if err := l.loadYAML("argus.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]*LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]*LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// mergeLLMProviders merges built-in and user-defined providers; a user entry
// with the same name replaces the built-in one entirely.
func mergeLLMProviders(builtin, user map[string]*LLMProviderConfig) map[string]*LLMProviderConfig {
	merged := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name, cfg := range builtin {
		merged[name] = cfg
	}
	for name, cfg := range user {
		merged[name] = cfg
	}
	return merged
}

// resolveServerConfig resolves HTTP server configuration, applying defaults.
func resolveServerConfig(yml *ServerConfig) *ServerConfig {
	cfg := &ServerConfig{
		Host: "0.0.0.0",
		Port: 8000,
	}

	if yml == nil {
		return cfg
	}

	if yml.Host != "" {
		cfg.Host = yml.Host
	}
	if yml.Port > 0 {
		cfg.Port = yml.Port
	}
	cfg.AllowedOrigins = yml.AllowedOrigins
	cfg.AllowedWSOrigins = yml.AllowedWSOrigins
	cfg.AdminUserID = yml.AdminUserID

	return cfg
}

// resolveMarketConfig resolves provider adapter configuration, applying
// defaults and the DEFAULT_CHINA_DATA_SOURCE environment override.
func resolveMarketConfig(yml *MarketYAMLConfig) *MarketConfig {
	cfg := &MarketConfig{
		RequestTimeout:   30 * time.Second,
		WriteThrough:     true,
		ConsistencyCheck: false,
		Tushare: ProviderConfig{
			Enabled:       true,
			TokenEnv:      "TUSHARE_TOKEN",
			BaseURL:       "https://api.tushare.pro",
			RatePerMinute: 400,
		},
		AKShare: ProviderConfig{
			Enabled:       true,
			BaseURL:       "http://localhost:8080",
			RatePerMinute: 120,
		},
		Baostock: ProviderConfig{
			Enabled:       true,
			BaseURL:       "http://localhost:8081",
			RatePerMinute: 60,
		},
	}

	if yml != nil {
		if yml.DefaultChinaSource != "" {
			cfg.DefaultChinaSource = yml.DefaultChinaSource
		}
		if yml.RequestTimeout > 0 {
			cfg.RequestTimeout = yml.RequestTimeout
		}
		if yml.WriteThrough != nil {
			cfg.WriteThrough = *yml.WriteThrough
		}
		if yml.ConsistencyCheck != nil {
			cfg.ConsistencyCheck = *yml.ConsistencyCheck
		}
		yml.Tushare.applyTo(&cfg.Tushare)
		yml.AKShare.applyTo(&cfg.AKShare)
		yml.Baostock.applyTo(&cfg.Baostock)
	}

	// Environment override beats YAML: operators flip the preferred source
	// without editing files.
	if env := os.Getenv("DEFAULT_CHINA_DATA_SOURCE"); env != "" {
		cfg.DefaultChinaSource = env
	}

	return cfg
}

// resolveSlackConfig resolves Slack configuration from YAML, applying defaults.
func resolveSlackConfig(yml *SlackYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if yml == nil {
		return cfg
	}

	if yml.Enabled != nil {
		cfg.Enabled = *yml.Enabled
	}
	if yml.TokenEnv != "" {
		cfg.TokenEnv = yml.TokenEnv
	}
	if yml.Channel != "" {
		cfg.Channel = yml.Channel
	}

	return cfg
}

// resolveDataConfig resolves filesystem locations, applying defaults and the
// AGENT_CONFIG_DIR environment override.
func resolveDataConfig(yml *DataConfig) *DataConfig {
	cfg := &DataConfig{
		ReportsDir:     "./data/analysis_results",
		AgentConfigDir: "./config/agents",
	}

	if yml != nil {
		if yml.ReportsDir != "" {
			cfg.ReportsDir = yml.ReportsDir
		}
		if yml.AgentConfigDir != "" {
			cfg.AgentConfigDir = yml.AgentConfigDir
		}
	}

	if env := os.Getenv("AGENT_CONFIG_DIR"); env != "" {
		cfg.AgentConfigDir = env
	}

	return cfg
}
