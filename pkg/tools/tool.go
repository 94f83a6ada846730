package tools

import (
	"context"
	"fmt"
)

// Tool is one callable exposed to agents: a name, a description, a JSON
// schema for its arguments and an execute function. Local tools wrap
// orchestrator operations; external tools route through the MCP bridge.
type Tool struct {
	// Name is the LLM-facing identifier. External tools use the
	// canonical "server.tool" form so names never collide.
	Name        string
	Description string
	Schema      string // JSON Schema of the arguments object

	// Server is the MCP server id for external tools, empty for local.
	Server string

	// RequiresProvider names a market data adapter this tool cannot
	// work without. Tools with an unavailable backing provider are
	// filtered out of agent runs.
	RequiresProvider string

	Run func(ctx context.Context, args map[string]any) (string, error)
}

// External reports whether the tool routes through an MCP server.
func (t *Tool) External() bool { return t.Server != "" }

// failureMessage formats the tool error contract: failures reach the
// model as a string result with routing guidance, never as a raised
// error that would kill the run.
func failureMessage(toolName string, err error) string {
	return fmt.Sprintf("❌ 工具 %s 调用失败: %v。\n👉 请不要停止分析！\n1. 如果有其他工具可用，请尝试其他工具。\n2. 如果无法解决，请在最终报告中明确记录此错误和失败原因。", toolName, err)
}

// disabledMessage formats the breaker short-circuit notice.
func disabledMessage(toolName string, lastErr string) string {
	if lastErr == "" {
		lastErr = "连续调用失败"
	}
	return fmt.Sprintf("⛔ 工具 %s 在本任务中已临时禁用（连续失败 %d 次，最近错误: %s）。请改用其他工具，或在最终报告中记录该限制。", toolName, breakerFailureThreshold, lastErr)
}

// argString pulls a string argument with a default.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// argInt pulls an integer argument with a default. JSON numbers decode
// as float64, so both forms are accepted.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// argBool pulls a boolean argument with a default.
func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
