package config

import "time"

// MarketConfig groups resolved provider adapter settings.
type MarketConfig struct {
	// DefaultChinaSource promotes the named provider to top priority.
	// The DEFAULT_CHINA_DATA_SOURCE environment variable overrides it.
	DefaultChinaSource string

	// RequestTimeout is the per-call ceiling for upstream provider requests.
	RequestTimeout time.Duration

	// WriteThrough persists fetched kline bars into stock_daily_quotes.
	WriteThrough bool

	// ConsistencyCheck enables the cross-provider comparison (telemetry only).
	ConsistencyCheck bool

	Tushare  ProviderConfig
	AKShare  ProviderConfig
	Baostock ProviderConfig
}

// ProviderConfig is the resolved per-adapter configuration.
type ProviderConfig struct {
	Enabled       bool
	TokenEnv      string // empty for token-less providers
	BaseURL       string
	RatePerMinute int
}

// MarketYAMLConfig is the market section as written in argus.yaml.
// Booleans are pointers so an omitted key keeps its built-in default.
type MarketYAMLConfig struct {
	DefaultChinaSource string              `yaml:"default_china_source,omitempty"`
	RequestTimeout     time.Duration       `yaml:"request_timeout,omitempty"`
	WriteThrough       *bool               `yaml:"write_through,omitempty"`
	ConsistencyCheck   *bool               `yaml:"consistency_check,omitempty"`
	Tushare            *ProviderYAMLConfig `yaml:"tushare,omitempty"`
	AKShare            *ProviderYAMLConfig `yaml:"akshare,omitempty"`
	Baostock           *ProviderYAMLConfig `yaml:"baostock,omitempty"`
}

// ProviderYAMLConfig is one adapter's section as written in argus.yaml.
type ProviderYAMLConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	TokenEnv      string `yaml:"token_env,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	RatePerMinute int    `yaml:"rate_per_minute,omitempty"`
}

func (p *ProviderYAMLConfig) applyTo(dst *ProviderConfig) {
	if p == nil {
		return
	}
	if p.Enabled != nil {
		dst.Enabled = *p.Enabled
	}
	if p.TokenEnv != "" {
		dst.TokenEnv = p.TokenEnv
	}
	if p.BaseURL != "" {
		dst.BaseURL = p.BaseURL
	}
	if p.RatePerMinute > 0 {
		dst.RatePerMinute = p.RatePerMinute
	}
}
