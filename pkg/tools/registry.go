package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/market"
	"github.com/quantflow/argus/pkg/masking"
)

// ExternalTool describes one MCP-bridged tool as cached by the bridge.
type ExternalTool struct {
	Server      string
	Name        string
	Description string
	InputSchema string // JSON Schema
}

// ExternalSource is the slice of the MCP bridge the registry needs.
// Nil means external tools are disabled.
type ExternalSource interface {
	ExternalTools(ctx context.Context) []ExternalTool
	CallExternalTool(ctx context.Context, server, name string, args map[string]any) (string, error)
}

// Registry exposes provider operations and MCP server tools as uniformly
// callable tools. Application-scoped; per-task state lives in TaskScope.
type Registry struct {
	orch            *market.Orchestrator
	masker          *masking.Service
	external        ExternalSource
	breakerCooldown time.Duration
	logger          *slog.Logger
}

// NewRegistry creates the tool registry. external may be nil.
func NewRegistry(orch *market.Orchestrator, masker *masking.Service, external ExternalSource) *Registry {
	return &Registry{
		orch:            orch,
		masker:          masker,
		external:        external,
		breakerCooldown: defaultBreakerCooldown,
		logger:          slog.Default().With("component", "tools"),
	}
}

// TaskScope carries the per-task tool state: the breaker set shared by
// every agent in the task and the task's preferred source ordering.
type TaskScope struct {
	reg       *Registry
	taskID    string
	preferred []string
	breakers  *breakerSet
}

// ScopeToTask creates the per-task scope. Breaker state is isolated to
// this task and destroyed with it.
func (r *Registry) ScopeToTask(taskID string, preferred []string) *TaskScope {
	return &TaskScope{
		reg:       r,
		taskID:    taskID,
		preferred: preferred,
		breakers:  newBreakerSet(r.breakerCooldown),
	}
}

// Executor builds the agent-facing tool executor for one agent run:
// all tools → allow-list intersection → provider-availability filter.
// An allow-list that matches nothing falls back to the full set, since
// an agent with zero tools silently degrades to an unsourced opinion.
func (s *TaskScope) Executor(ctx context.Context, allowList []string) *Executor {
	all := s.reg.collectTools(ctx, s.preferred)

	tools := all
	if len(allowList) > 0 {
		allowed := make(map[string]bool, len(allowList))
		for _, name := range allowList {
			if name != "" {
				allowed[name] = true
			}
		}
		var filtered []*Tool
		for _, t := range tools {
			if allowed[t.Name] {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			tools = filtered
		} else {
			s.reg.logger.Warn("Tool allow-list matched nothing, falling back to full set",
				"task_id", s.taskID, "allow_list", allowList)
		}
	}

	tools = s.reg.filterByAvailability(ctx, tools)

	return &Executor{scope: s, tools: tools}
}

// collectTools returns local tools plus the bridge's cached externals.
func (r *Registry) collectTools(ctx context.Context, preferred []string) []*Tool {
	tools := localTools(r.orch, preferred)
	if r.external == nil {
		return tools
	}
	for _, ext := range r.external.ExternalTools(ctx) {
		ext := ext
		tools = append(tools, &Tool{
			Name:        ext.Server + "." + ext.Name,
			Description: ext.Description,
			Schema:      ext.InputSchema,
			Server:      ext.Server,
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				return r.external.CallExternalTool(ctx, ext.Server, ext.Name, args)
			},
		})
	}
	return tools
}

// filterByAvailability removes tools whose backing provider reports
// unavailable. Availability is probed once per filter pass.
func (r *Registry) filterByAvailability(ctx context.Context, tools []*Tool) []*Tool {
	var statuses map[string]bool
	out := make([]*Tool, 0, len(tools))
	for _, t := range tools {
		if t.RequiresProvider == "" {
			out = append(out, t)
			continue
		}
		if statuses == nil {
			statuses = make(map[string]bool)
			for _, st := range r.orch.AdapterStatus(ctx) {
				statuses[st.Name] = st.Available
			}
		}
		if statuses[t.RequiresProvider] {
			out = append(out, t)
		} else {
			r.logger.Debug("Filtering tool, backing provider unavailable",
				"tool", t.Name, "provider", t.RequiresProvider)
		}
	}
	return out
}

// ListAllTools reports every known tool with its origin metadata,
// deduplicated by {server}:{name}. Used by the admin discovery endpoint.
func (r *Registry) ListAllTools(ctx context.Context) []ToolInfo {
	seen := make(map[string]bool)
	var out []ToolInfo
	for _, t := range r.collectTools(ctx, nil) {
		server := t.Server
		if server == "" {
			server = "local"
		}
		key := server + ":" + t.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ToolInfo{
			ID:          key,
			Name:        t.Name,
			Description: t.Description,
			Server:      server,
			Status:      "available",
		})
	}
	return out
}

// ToolInfo is the discovery metadata for one tool.
type ToolInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Server      string `json:"server"`
	Status      string `json:"status"`
}

// Executor is the agent.ToolExecutor for one agent run inside one task.
type Executor struct {
	scope *TaskScope
	tools []*Tool
}

var _ agent.ToolExecutor = (*Executor)(nil)

// ListTools returns the filtered tool definitions for the LLM.
func (e *Executor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	if len(e.tools) == 0 {
		return nil, nil
	}
	defs := make([]agent.ToolDefinition, len(e.tools))
	for i, t := range e.tools {
		defs[i] = agent.ToolDefinition{
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: t.Schema,
		}
	}
	return defs, nil
}

// Execute runs one tool call under the safety wrapper. Every failure
// becomes a string result (IsError=true) so the model can route around
// it; Execute itself only errors on unrecoverable executor misuse.
func (e *Executor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	tool := e.find(call.Name)
	if tool == nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: failureMessage(call.Name, errUnknownTool),
			IsError: true,
		}, nil
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: failureMessage(call.Name, err),
			IsError: true,
		}, nil
	}

	// External tools consult the per-task breaker; local tools bypass it.
	var brk *breaker
	if tool.External() {
		brk = e.scope.breakers.forTool(tool.Name)
		if !brk.Allow(time.Now()) {
			return &agent.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: disabledMessage(tool.Name, brk.LastError()),
				IsError: true,
			}, nil
		}
	}

	content, err := safeCall(ctx, tool.Name, func(ctx context.Context) (string, error) {
		return tool.Run(ctx, args)
	})
	if err != nil {
		if brk != nil {
			brk.RecordFailure(time.Now(), err.Error())
		}
		e.scope.reg.logger.Warn("Tool call failed",
			"task_id", e.scope.taskID, "tool", tool.Name, "error", err)
		return &agent.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: failureMessage(tool.Name, err),
			IsError: true,
		}, nil
	}
	if brk != nil {
		brk.RecordSuccess()
	}

	content = e.mask(tool, content)

	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
	}, nil
}

// Close is a no-op: the bridge and orchestrator are application-scoped.
func (e *Executor) Close() error { return nil }

func (e *Executor) find(name string) *Tool {
	for _, t := range e.tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// mask routes tool output through the masking service before it enters
// the conversation.
func (e *Executor) mask(tool *Tool, content string) string {
	if e.scope.reg.masker == nil {
		return content
	}
	if tool.External() {
		return e.scope.reg.masker.MaskToolResult(content, tool.Server)
	}
	return e.scope.reg.masker.MaskText(content)
}
