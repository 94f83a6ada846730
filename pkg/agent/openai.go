package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quantflow/argus/pkg/config"
)

// defaultRequestTimeout bounds a single completion request when the
// provider config does not set one.
const defaultRequestTimeout = 180 * time.Second

// OpenAIClient implements LLMClient over the OpenAI-compatible chat
// completions API. DashScope, DeepSeek and OpenAI proper all expose this
// surface; the provider config supplies the base URL and key env var.
//
// Underlying SDK clients are cached per (base URL, key env) pair so the
// same HTTP connection pool is reused across tasks.
type OpenAIClient struct {
	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIClient creates an LLM client. Provider resolution happens per
// Generate call via GenerateInput.Config.
func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{clients: make(map[string]*openai.Client)}
}

// Generate sends the conversation to the configured provider and streams
// the response back as chunks. The channel closes when the stream ends;
// provider failures surface as an ErrorChunk, not a closed-channel surprise.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	if input == nil || input.Config == nil {
		return nil, errors.New("generate input requires a provider config")
	}
	if input.Config.Model == "" {
		return nil, errors.New("provider config has no model")
	}

	client, err := c.clientFor(input.Config)
	if err != nil {
		return nil, err
	}

	req := buildChatRequest(input)

	timeout := input.Config.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		stream, err := client.CreateChatCompletionStream(reqCtx, req)
		if err != nil {
			out <- errorChunk(err)
			return
		}
		defer stream.Close()

		pumpStream(reqCtx, stream, out)
	}()
	return out, nil
}

// Close releases cached clients. The SDK holds no persistent connections
// beyond the HTTP pool, so this only drops the cache.
func (c *OpenAIClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[string]*openai.Client)
	return nil
}

func (c *OpenAIClient) clientFor(cfg *config.LLMProviderConfig) (*openai.Client, error) {
	key := cfg.BaseURL + "|" + cfg.APIKeyEnv

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("LLM API key env %s is not set", cfg.APIKeyEnv)
		}
	}

	sdkCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := openai.NewClientWithConfig(sdkCfg)
	c.clients[key] = client
	return client, nil
}

func buildChatRequest(input *GenerateInput) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(input.Messages))
	for _, m := range input.Messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				msg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		if m.Role == RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.ToolName
		}
		messages = append(messages, msg)
	}

	req := openai.ChatCompletionRequest{
		Model:    input.Config.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if input.Config.Temperature != nil {
		req.Temperature = *input.Config.Temperature
	}
	if input.Config.MaxTokens > 0 {
		req.MaxTokens = input.Config.MaxTokens
	}
	if len(input.Tools) > 0 {
		req.Tools = make([]openai.Tool, len(input.Tools))
		for i, t := range input.Tools {
			var params any = map[string]any{"type": "object", "properties": map[string]any{}}
			if t.ParametersSchema != "" {
				params = rawJSON(t.ParametersSchema)
			}
			req.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			}
		}
	}
	return req
}

// pumpStream reads the SDK stream and emits chunks in arrival order.
// Tool call argument fragments are accumulated by index and flushed once
// the stream signals completion.
func pumpStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- Chunk) {
	type pendingCall struct {
		id   string
		name string
		args strings.Builder
	}
	pending := make(map[int]*pendingCall)
	order := make([]int, 0, 4)
	flushed := false

	flushCalls := func() {
		if flushed {
			return
		}
		flushed = true
		for _, idx := range order {
			pc := pending[idx]
			if pc == nil || pc.id == "" || pc.name == "" {
				continue
			}
			out <- &ToolCallChunk{CallID: pc.id, Name: pc.name, Arguments: pc.args.String()}
		}
	}

	for {
		select {
		case <-ctx.Done():
			out <- errorChunk(ctx.Err())
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushCalls()
				return
			}
			out <- errorChunk(err)
			return
		}

		// With IncludeUsage the final frame carries usage and no choices.
		if resp.Usage != nil {
			uc := &UsageChunk{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
			if d := resp.Usage.CompletionTokensDetails; d != nil {
				uc.ReasoningTokens = d.ReasoningTokens
			}
			out <- uc
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.ReasoningContent != "" {
			out <- &ThinkingChunk{Content: choice.Delta.ReasoningContent}
		}
		if choice.Delta.Content != "" {
			out <- &TextChunk{Content: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc := pending[idx]
			if pc == nil {
				pc = &pendingCall{}
				pending[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushCalls()
		}
	}
}

func errorChunk(err error) *ErrorChunk {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ErrorChunk{
			Message:   apiErr.Message,
			Code:      fmt.Sprintf("http_%d", apiErr.HTTPStatusCode),
			Retryable: isRetryableStatus(apiErr.HTTPStatusCode),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrorChunk{Message: err.Error(), Code: "timeout", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &ErrorChunk{Message: err.Error(), Code: "cancelled", Retryable: false}
	}
	slog.Debug("LLM stream error", "error", err)
	return &ErrorChunk{Message: err.Error(), Code: "stream", Retryable: true}
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// rawJSON lets a pre-rendered JSON schema pass through request
// serialization without a decode/encode round trip.
type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }
