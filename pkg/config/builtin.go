package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds all built-in configuration data.
// This provides default LLM providers, masking patterns, and market settings
// so the service runs with an empty argus.yaml.
type BuiltinConfig struct {
	LLMProviders       map[string]*LLMProviderConfig
	MaskingPatterns    map[string]MaskingPattern
	PatternGroups      map[string][]string
	DefaultLLMProvider string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		LLMProviders:       initBuiltinLLMProviders(),
		MaskingPatterns:    initBuiltinMaskingPatterns(),
		PatternGroups:      initBuiltinPatternGroups(),
		DefaultLLMProvider: "dashscope-default",
	}
}

func initBuiltinLLMProviders() map[string]*LLMProviderConfig {
	return map[string]*LLMProviderConfig{
		"dashscope-default": {
			Model:     "qwen-max",
			APIKeyEnv: "DASHSCOPE_API_KEY",
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Timeout:   120 * time.Second,
		},
		"deepseek-default": {
			Model:     "deepseek-chat",
			APIKeyEnv: "DEEPSEEK_API_KEY",
			BaseURL:   "https://api.deepseek.com/v1",
			Timeout:   120 * time.Second,
		},
		"openai-default": {
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   120 * time.Second,
		},
	}
}

// initBuiltinMaskingPatterns defines credential shapes that must never reach
// the model conversation or persisted reports.
func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"provider_token": {
			Pattern:     `\b[0-9a-f]{32,64}\b`,
			Replacement: "***MASKED_PROVIDER_TOKEN***",
			Description: "Hex API tokens (Tushare and similar data providers)",
		},
		"api_key": {
			Pattern:     `(?i)(api[_-]?key|apikey|secret[_-]?key)["'\s:=]+[A-Za-z0-9_\-\.]{16,}`,
			Replacement: "***MASKED_API_KEY***",
			Description: "Generic api_key=... assignments",
		},
		"bearer_token": {
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			Replacement: "Bearer ***MASKED***",
			Description: "Authorization bearer tokens",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Replacement: "***MASKED_EMAIL***",
			Description: "Email addresses",
		},
	}
}

func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"security": {"provider_token", "api_key", "bearer_token"},
		"pii":      {"email"},
	}
}
