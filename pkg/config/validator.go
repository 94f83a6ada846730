package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: server → tasks → market → LLM providers → MCP servers
	// This ensures dependencies are validated before dependents

	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateTasks(); err != nil {
		return fmt.Errorf("tasks validation failed: %w", err)
	}

	if err := v.validateMarket(); err != nil {
		return fmt.Errorf("market validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "http", "port", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	return nil
}

func (v *ConfigValidator) validateTasks() error {
	t := v.cfg.Tasks
	if t.MaxConcurrentTasks < 1 {
		return NewValidationError("tasks", "lifecycle", "max_concurrent_tasks", fmt.Errorf("must be at least 1"))
	}
	if t.MaxBatchSize < 1 {
		return NewValidationError("tasks", "lifecycle", "max_batch_size", fmt.Errorf("must be at least 1"))
	}
	if t.TaskTimeout <= 0 {
		return NewValidationError("tasks", "lifecycle", "task_timeout", fmt.Errorf("must be positive"))
	}
	if t.ZombieMaxRunningHours < 1 || t.ZombieMaxRunningHours > 72 {
		return NewValidationError("tasks", "lifecycle", "zombie_max_running_hours",
			fmt.Errorf("%w: must be within [1, 72], got %v", ErrInvalidValue, t.ZombieMaxRunningHours))
	}
	return nil
}

func (v *ConfigValidator) validateMarket() error {
	m := v.cfg.Market

	if m.RequestTimeout <= 0 {
		return NewValidationError("market", "adapters", "request_timeout", fmt.Errorf("must be positive"))
	}

	if !m.Tushare.Enabled && !m.AKShare.Enabled && !m.Baostock.Enabled {
		return NewValidationError("market", "adapters", "",
			fmt.Errorf("at least one provider adapter must be enabled"))
	}

	// A missing token is not a config error: the adapter reports itself
	// unavailable at runtime and the orchestrator falls through.
	if m.DefaultChinaSource != "" && !ProviderName(m.DefaultChinaSource).IsValid() {
		return NewValidationError("market", "adapters", "default_china_source",
			fmt.Errorf("%w: unknown provider %q", ErrInvalidValue, m.DefaultChinaSource))
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	if v.cfg.LLMProviderRegistry.Len() == 0 {
		return NewValidationError("llm_provider", "registry", "", fmt.Errorf("no LLM providers configured"))
	}

	for name, p := range v.cfg.LLMProviderRegistry.GetAll() {
		if p.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		if p.MaxTokens < 0 {
			return NewValidationError("llm_provider", name, "max_tokens", fmt.Errorf("must not be negative"))
		}
		if p.Timeout < 0 {
			return NewValidationError("llm_provider", name, "timeout", fmt.Errorf("must not be negative"))
		}
	}

	if !v.cfg.LLMProviderRegistry.Has(v.cfg.DefaultLLMProvider) {
		return NewValidationError("llm_provider", v.cfg.DefaultLLMProvider, "",
			fmt.Errorf("%w: default_llm_provider does not name a configured provider", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		t := server.Transport

		if !t.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type",
				fmt.Errorf("%w: %s", ErrInvalidValue, t.Type))
		}

		switch t.Type {
		case TransportTypeStdio:
			if t.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", ErrMissingRequiredField)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if t.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", ErrMissingRequiredField)
			}
		}

		if server.DataMasking != nil && server.DataMasking.Enabled {
			builtin := GetBuiltinConfig()
			for _, group := range server.DataMasking.PatternGroups {
				if _, ok := builtin.PatternGroups[group]; !ok {
					return NewValidationError("mcp_server", serverID, "data_masking.pattern_groups",
						fmt.Errorf("%w: unknown pattern group %q", ErrInvalidValue, group))
				}
			}
			for _, pattern := range server.DataMasking.Patterns {
				if _, ok := builtin.MaskingPatterns[pattern]; !ok {
					return NewValidationError("mcp_server", serverID, "data_masking.patterns",
						fmt.Errorf("%w: unknown pattern %q", ErrInvalidValue, pattern))
				}
			}
		}
	}

	return nil
}
