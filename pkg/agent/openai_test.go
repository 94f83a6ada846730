package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

// sseServer serves a fixed sequence of chat-completion stream frames.
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func streamFrame(t *testing.T, delta map[string]any, finish string) string {
	t.Helper()
	choice := map[string]any{"index": 0, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	frame := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "qwen-max",
		"choices": []any{choice},
	}
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	return string(b)
}

func providerFor(t *testing.T, srv *httptest.Server) *config.LLMProviderConfig {
	t.Helper()
	t.Setenv("TEST_LLM_KEY", "sk-test")
	return &config.LLMProviderConfig{
		Model:     "qwen-max",
		APIKeyEnv: "TEST_LLM_KEY",
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
	}
}

func TestOpenAIClient_StreamsText(t *testing.T) {
	srv := sseServer(t, []string{
		streamFrame(t, map[string]any{"content": "你好"}, ""),
		streamFrame(t, map[string]any{"content": "，世界"}, ""),
		streamFrame(t, map[string]any{}, "stop"),
	})
	defer srv.Close()

	client := NewOpenAIClient()
	defer client.Close()

	stream, err := client.Generate(context.Background(), &GenerateInput{
		TaskID:   "t1",
		Messages: []ConversationMessage{{Role: RoleUser, Content: "hi"}},
		Config:   providerFor(t, srv),
	})
	require.NoError(t, err)

	resp, err := CollectStream(stream)
	require.NoError(t, err)
	assert.Equal(t, "你好，世界", resp.Text)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAIClient_AccumulatesToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		streamFrame(t, map[string]any{"tool_calls": []any{map[string]any{
			"index": 0, "id": "call_7", "type": "function",
			"function": map[string]any{"name": "get_stock_data", "arguments": `{"symbol":`},
		}}}, ""),
		streamFrame(t, map[string]any{"tool_calls": []any{map[string]any{
			"index":    0,
			"function": map[string]any{"arguments": `"000001"}`},
		}}}, ""),
		streamFrame(t, map[string]any{}, "tool_calls"),
	})
	defer srv.Close()

	client := NewOpenAIClient()
	defer client.Close()

	stream, err := client.Generate(context.Background(), &GenerateInput{
		TaskID:   "t2",
		Messages: []ConversationMessage{{Role: RoleUser, Content: "q"}},
		Config:   providerFor(t, srv),
		Tools: []ToolDefinition{{
			Name:             "get_stock_data",
			Description:      "历史K线",
			ParametersSchema: `{"type":"object","properties":{"symbol":{"type":"string"}}}`,
		}},
	})
	require.NoError(t, err)

	resp, err := CollectStream(stream)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_7", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_stock_data", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"symbol":"000001"}`, resp.ToolCalls[0].Arguments)
}

func TestOpenAIClient_UsageFrame(t *testing.T) {
	usageFrame := `{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"qwen-max","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`
	srv := sseServer(t, []string{
		streamFrame(t, map[string]any{"content": "ok"}, "stop"),
		usageFrame,
	})
	defer srv.Close()

	client := NewOpenAIClient()
	defer client.Close()

	stream, err := client.Generate(context.Background(), &GenerateInput{
		TaskID:   "t3",
		Messages: []ConversationMessage{{Role: RoleUser, Content: "q"}},
		Config:   providerFor(t, srv),
	})
	require.NoError(t, err)

	resp, err := CollectStream(stream)
	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
}

func TestOpenAIClient_MissingAPIKey(t *testing.T) {
	t.Setenv("MISSING_LLM_KEY", "")
	client := NewOpenAIClient()
	defer client.Close()

	_, err := client.Generate(context.Background(), &GenerateInput{
		Messages: []ConversationMessage{{Role: RoleUser, Content: "q"}},
		Config:   &config.LLMProviderConfig{Model: "m", APIKeyEnv: "MISSING_LLM_KEY"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_LLM_KEY")
}

func TestOpenAIClient_NilConfig(t *testing.T) {
	client := NewOpenAIClient()
	_, err := client.Generate(context.Background(), &GenerateInput{})
	require.Error(t, err)
}

func TestBuildChatRequest_ToolResultRoundTrip(t *testing.T) {
	input := &GenerateInput{
		Config: &config.LLMProviderConfig{Model: "deepseek-chat", MaxTokens: 2000},
		Messages: []ConversationMessage{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "user"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}},
			{Role: RoleTool, Content: "result", ToolCallID: "c1", ToolName: "f"},
		},
		Tools: []ToolDefinition{{Name: "f", ParametersSchema: `{"type":"object"}`}},
	}

	req := buildChatRequest(input)
	assert.Equal(t, "deepseek-chat", req.Model)
	assert.Equal(t, 2000, req.MaxTokens)
	assert.True(t, req.Stream)
	require.NotNil(t, req.StreamOptions)
	assert.True(t, req.StreamOptions.IncludeUsage)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "c1", req.Messages[3].ToolCallID)
	assert.Equal(t, "f", req.Messages[3].Name)
	require.Len(t, req.Messages[2].ToolCalls, 1)
	require.Len(t, req.Tools, 1)

	// Schema must survive serialization verbatim.
	b, err := json.Marshal(req.Tools[0].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(b))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, isRetryableStatus(http.StatusBadGateway))
	assert.False(t, isRetryableStatus(http.StatusUnauthorized))
	assert.False(t, isRetryableStatus(http.StatusBadRequest))
}
