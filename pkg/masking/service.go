package masking

import (
	"log/slog"

	"github.com/quantflow/argus/pkg/config"
)

// defaultSweepGroup is the pattern group applied to local tool output.
// Local tools talk to data providers with API tokens in transit; the
// security group strips anything token-shaped that leaks into payloads.
const defaultSweepGroup = "security"

// Service applies data masking to tool results before they enter the
// model conversation or persisted reports. Created once at application
// startup. Thread-safe and stateless aside from compiled patterns.
type Service struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern // Built-in + custom compiled patterns
	patternGroups        map[string][]string         // Group name → pattern names
	serverCustomPatterns map[string][]string         // serverID → custom pattern keys
	sweepGroup           string
}

// NewService creates a masking service with all patterns compiled eagerly.
// Invalid patterns are logged and skipped.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        config.GetBuiltinConfig().PatternGroups,
		serverCustomPatterns: make(map[string][]string),
		sweepGroup:           defaultSweepGroup,
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()

	slog.Info("Masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns))

	return s
}

// MaskToolResult applies server-specific masking to MCP tool result content.
// On masking failure, returns a redaction notice (fail-closed): external
// tool servers may echo credentials back verbatim.
func (s *Service) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}

	serverCfg, err := s.registry.Get(serverID)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return content
	}

	resolved := s.resolvePatterns(serverCfg.DataMasking, serverID)
	if len(resolved.regexPatterns) == 0 {
		return content
	}

	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("Masking failed, redacting content (fail-closed)",
			"server", serverID, "error", err)
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}

	return masked
}

// MaskText sweeps local tool output with the security pattern group.
// On failure, returns the original text (fail-open): local tool output is
// generated market data, not an external server's echo.
func (s *Service) MaskText(data string) string {
	if data == "" {
		return data
	}

	resolved := s.resolvePatternsFromGroup(s.sweepGroup)
	if len(resolved.regexPatterns) == 0 {
		return data
	}

	masked, err := s.applyMasking(data, resolved)
	if err != nil {
		slog.Error("Text masking failed, continuing unmasked (fail-open)", "error", err)
		return data
	}

	return masked
}

// applyMasking runs every resolved regex pattern over the content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked, nil
}
