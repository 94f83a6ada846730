package agent

import (
	"context"

	"github.com/quantflow/argus/pkg/config"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// LLMClient is the interface for calling a chat-completion provider.
// It provides a channel-based streaming API: the returned channel is
// closed when the stream completes, and errors are delivered as
// ErrorChunk values in the channel.
type LLMClient interface {
	// Generate sends a conversation to the LLM and returns a stream of chunks.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Close releases underlying connections.
	Close() error
}

// GenerateInput is a single Generate request.
type GenerateInput struct {
	TaskID   string
	Messages []ConversationMessage
	Config   *config.LLMProviderConfig
	Tools    []ToolDefinition // nil = no tools
}

// ConversationMessage is one turn of the conversation.
type ConversationMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // For assistant messages
	ToolCallID string     // For tool result messages
	ToolName   string     // For tool result messages
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall represents an LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the LLM's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a chunk of the LLM's reasoning stream.
// Emitted by reasoning models (deepseek-reasoner, qwen with thinking
// enabled) that separate reasoning from the answer.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the LLM wants to call a tool.
// Arguments are fully accumulated before the chunk is emitted.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this LLM call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens, ReasoningTokens int }

// ErrorChunk signals an error from the LLM provider.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// TokenUsage accumulates token counts across the calls of one agent run.
type TokenUsage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens int
}

// Add accumulates counts from another usage record.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.ReasoningTokens += other.ReasoningTokens
}
