package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token.
// Used for threshold estimation only, not exact token counting.
const charsPerToken = 4

// DefaultResultMaxTokens caps a single tool result entering the agent
// conversation. External servers can return arbitrarily large payloads;
// anything past this would crowd out the rest of the context window.
const DefaultResultMaxTokens = 8000

// TruncateResult caps one external tool result before it reaches the
// agent conversation.
func TruncateResult(content string) string {
	return truncateAtLineBoundary(content, DefaultResultMaxTokens*charsPerToken)
}

// truncateAtLineBoundary cuts at the last newline before the limit to
// avoid splitting mid-line, which matters when the content is indented
// JSON or tabular output.
//
// maxChars is a byte limit. The cut point is moved backwards first to
// avoid splitting a multi-byte UTF-8 character, then to the last
// newline when one exists.
func truncateAtLineBoundary(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[输出已截断: 原始大小 %s, 上限 %s]",
		formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize returns a human-readable size. Bytes are used under 1KB to
// avoid confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
