package config

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`

	// AdminUserID guards the admin endpoints (zombie cleanup, MCP reload).
	// Empty means admin endpoints accept any caller.
	AdminUserID string `yaml:"admin_user_id,omitempty"`
}

// SlackConfig holds resolved completion-notification configuration.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env,omitempty"` // Env var name for Slack bot token (default: "SLACK_BOT_TOKEN")
	Channel  string `yaml:"channel,omitempty"`   // Slack channel ID (e.g., "C12345678")
}

// DataConfig groups filesystem locations for run artifacts.
type DataConfig struct {
	// ReportsDir is the base directory for per-run report markdown:
	// <ReportsDir>/<symbol>/<YYYY-MM-DD>/reports/*.md
	ReportsDir string `yaml:"reports_dir"`

	// AgentConfigDir holds phase{1..4}_agents_config.yaml.
	// The AGENT_CONFIG_DIR environment variable overrides it.
	AgentConfigDir string `yaml:"agent_config_dir"`
}
