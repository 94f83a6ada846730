package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quantflow/argus/pkg/tools"
)

// ExternalTools returns the cached tool lists of every connected server.
// The cache is populated on dial and refreshed by the health monitor, so
// this never blocks on the wire.
func (b *Bridge) ExternalTools(_ context.Context) []tools.ExternalTool {
	b.toolMu.RLock()
	out := make([]tools.ExternalTool, 0, 16)
	for _, list := range b.toolCache {
		out = append(out, list...)
	}
	b.toolMu.RUnlock()

	// Stable order keeps tool definitions deterministic across runs.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CallExternalTool invokes one tool on one server. Transient upstream
// errors get a single retry on the same session; a lost connection
// marks the server unreachable and fails the call. Sessions are never
// recreated here: reconnecting is an operator action through
// RestartServer or ReloadConfig.
func (b *Bridge) CallExternalTool(ctx context.Context, server, name string, args map[string]any) (string, error) {
	result, err := b.callOnce(ctx, server, name, args)
	if err != nil {
		result, err = b.recoverCall(ctx, server, name, args, err)
		if err != nil {
			return "", err
		}
	}

	content := textContent(b, result)
	if result.IsError {
		if content == "" {
			content = "工具未返回错误详情"
		}
		return "", fmt.Errorf("%s.%s: %s", server, name, truncateAtLineBoundary(content, errorTextLimit))
	}
	return TruncateResult(content), nil
}

func (b *Bridge) callOnce(ctx context.Context, server, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session := b.session(server)
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", server)
	}

	callCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	return session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// recoverCall applies the error classification to a failed call.
func (b *Bridge) recoverCall(ctx context.Context, server, name string, args map[string]any, callErr error) (*mcpsdk.CallToolResult, error) {
	switch ClassifyError(callErr) {
	case RetryTransient:
		b.logger.Info("retrying MCP tool call",
			"server", server, "tool", name, "error", callErr)
		select {
		case <-time.After(retryBackoff()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		result, err := b.callOnce(ctx, server, name, args)
		if err != nil {
			return nil, fmt.Errorf("retry failed for %s.%s: %w", server, name, err)
		}
		return result, nil

	case ConnectionLost:
		b.markUnreachable(server, callErr.Error())
		b.logger.Warn("MCP server connection lost",
			"server", server, "tool", name, "error", callErr)
		return nil, callErr

	default:
		return nil, callErr
	}
}

// refreshTools fetches a server's tool list and replaces its cache slot.
// Used on dial and by the health monitor as a liveness probe.
func (b *Bridge) refreshTools(ctx context.Context, serverID string, session *mcpsdk.ClientSession) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	resp, err := session.ListTools(listCtx, nil)
	if err != nil {
		return 0, fmt.Errorf("list tools on %q: %w", serverID, err)
	}

	list := make([]tools.ExternalTool, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		list = append(list, tools.ExternalTool{
			Server:      serverID,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: marshalSchema(tool.InputSchema),
		})
	}

	b.toolMu.Lock()
	b.toolCache[serverID] = list
	b.toolMu.Unlock()
	return len(list), nil
}

// textContent concatenates the text parts of a tool result. Non-text
// content (images, resources) has no place in a model conversation here
// and is skipped.
func textContent(b *Bridge, result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		} else {
			b.logger.Debug("skipping non-text MCP content", "type", fmt.Sprintf("%T", content))
		}
	}
	return sb.String()
}

// marshalSchema renders a tool input schema back to JSON for the
// registry's tool definitions.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(raw)
}

// retryBackoff returns a jittered delay for the single transient retry.
func retryBackoff() time.Duration {
	span := int64(retryBackoffMax - retryBackoffMin)
	return retryBackoffMin + time.Duration(rand.Int64N(span))
}
