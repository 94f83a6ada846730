package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantflow/argus/pkg/config"
)

// Default bounds for the tool-calling loop. Research depth scales the
// iteration count in the graph layer; these are the runner's own caps.
const (
	DefaultMaxIterations   = 8
	defaultIterationBudget = 5 * time.Minute
)

// defaultConcludePrompt forces a final answer once the iteration budget
// is spent. Domain prompts are Chinese end to end, so this one is too.
const defaultConcludePrompt = "请停止调用工具，基于已经获得的信息直接给出你的最终分析结论。"

// RunInput describes one agent run: a static system prompt, an opening
// user prompt, the provider to use and the iteration bounds.
type RunInput struct {
	TaskID        string
	SystemPrompt  string
	UserPrompt    string
	Provider      *config.LLMProviderConfig
	MaxIterations int

	// ConcludePrompt overrides the forced-conclusion instruction
	// appended when MaxIterations is exhausted.
	ConcludePrompt string

	// IterationTimeout bounds one LLM call plus its tool executions.
	IterationTimeout time.Duration
}

// RunResult is the outcome of a completed agent run.
type RunResult struct {
	FinalText  string
	Iterations int
	ToolCalls  int
	Usage      TokenUsage
}

// Runner drives the multi-turn tool-calling loop for one agent.
// Tool calls come back as structured chunks; a response without tool
// calls is the final answer. Tool failures are fed back to the model as
// tool-role content and never abort the run by themselves.
type Runner struct {
	llm LLMClient
}

// NewRunner creates a runner on top of an LLM client.
func NewRunner(llm LLMClient) *Runner {
	return &Runner{llm: llm}
}

// Run executes the loop until the model produces a final answer, the
// iteration budget forces a conclusion, or the context is cancelled.
func (r *Runner) Run(ctx context.Context, in *RunInput, exec ToolExecutor) (*RunResult, error) {
	maxIter := in.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	iterTimeout := in.IterationTimeout
	if iterTimeout <= 0 {
		iterTimeout = defaultIterationBudget
	}

	state := &IterationState{MaxIterations: maxIter}
	totalUsage := TokenUsage{}
	toolCalls := 0

	messages := []ConversationMessage{
		{Role: RoleSystem, Content: in.SystemPrompt},
		{Role: RoleUser, Content: in.UserPrompt},
	}

	var tools []ToolDefinition
	if exec != nil {
		var err error
		tools, err = exec.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
	}

	for iteration := 0; iteration < maxIter; iteration++ {
		state.CurrentIteration = iteration + 1

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.ShouldAbortOnTimeouts() {
			return nil, fmt.Errorf("aborted after %d consecutive LLM timeouts: %s",
				state.ConsecutiveTimeoutFailures, state.LastErrorMessage)
		}

		iterCtx, iterCancel := context.WithTimeout(ctx, iterTimeout)

		resp, err := CallLLM(iterCtx, r.llm, &GenerateInput{
			TaskID:   in.TaskID,
			Messages: messages,
			Config:   in.Provider,
			Tools:    tools,
		})
		if err != nil {
			iterCancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state.RecordFailure(err.Error(), IsTimeoutError(err))
			slog.Warn("LLM call failed, retrying with error context",
				"task_id", in.TaskID, "iteration", iteration+1, "error", err)
			messages = append(messages, ConversationMessage{
				Role:    RoleUser,
				Content: fmt.Sprintf("上一次调用失败（%s），请继续分析。", err.Error()),
			})
			continue
		}

		totalUsage.Add(resp.Usage)
		state.RecordSuccess()

		if len(resp.ToolCalls) == 0 {
			// Final answer.
			iterCancel()
			return &RunResult{
				FinalText:  resp.Text,
				Iterations: iteration + 1,
				ToolCalls:  toolCalls,
				Usage:      totalUsage,
			}, nil
		}

		messages = append(messages, ConversationMessage{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			toolCalls++
			result := r.executeTool(iterCtx, exec, tc, in.TaskID)
			messages = append(messages, ConversationMessage{
				Role:       RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		iterCancel()
	}

	return r.forceConclusion(ctx, in, messages, state, totalUsage, toolCalls)
}

// executeTool runs one tool call. Failures always come back as content
// for the model; the executor itself already formats the error contract.
func (r *Runner) executeTool(ctx context.Context, exec ToolExecutor, tc ToolCall, taskID string) string {
	if exec == nil {
		return fmt.Sprintf("❌ 工具 %s 调用失败: 当前会话没有可用工具", tc.Name)
	}
	result, err := exec.Execute(ctx, tc)
	if err != nil {
		slog.Warn("Tool execution errored",
			"task_id", taskID, "tool", tc.Name, "error", err)
		return fmt.Sprintf("❌ 工具 %s 调用失败: %v", tc.Name, err)
	}
	return result.Content
}

// forceConclusion calls the LLM once more without tools so the run ends
// with usable text instead of an exhausted-iterations error.
func (r *Runner) forceConclusion(
	ctx context.Context,
	in *RunInput,
	messages []ConversationMessage,
	state *IterationState,
	totalUsage TokenUsage,
	toolCalls int,
) (*RunResult, error) {
	if state.LastInteractionFailed {
		return nil, fmt.Errorf("max iterations (%d) reached with last interaction failed: %s",
			state.MaxIterations, state.LastErrorMessage)
	}

	prompt := in.ConcludePrompt
	if prompt == "" {
		prompt = defaultConcludePrompt
	}
	messages = append(messages, ConversationMessage{Role: RoleUser, Content: prompt})

	resp, err := CallLLM(ctx, r.llm, &GenerateInput{
		TaskID:   in.TaskID,
		Messages: messages,
		Config:   in.Provider,
		Tools:    nil, // no tools, force text
	})
	if err != nil {
		return nil, fmt.Errorf("forced conclusion failed: %w", err)
	}
	totalUsage.Add(resp.Usage)

	return &RunResult{
		FinalText:  resp.Text,
		Iterations: state.MaxIterations,
		ToolCalls:  toolCalls,
		Usage:      totalUsage,
	}, nil
}
