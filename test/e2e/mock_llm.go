package e2e

import (
	"context"
	"strings"
	"sync"

	"github.com/quantflow/argus/pkg/agent"
)

// happySummaryJSON is a valid structured summary the scripted LLM returns
// for the report-writer node.
const happySummaryJSON = `{
	"key_indicators": {
		"entry_price": "10.5 附近分批", "target_price": "12.0", "stop_loss": "9.8",
		"support_level": "10.2", "resistance_level": "11.8"
	},
	"model_confidence": 85,
	"risk_assessment": {"level": "Medium", "score": 5.5, "description": "波动可控"},
	"analysis_summary": "多空分歧明显，技术面偏多。",
	"investment_recommendation": "建议分批买入。",
	"analysis_reference": [],
	"final_signal": "Buy"
}`

// ScriptedLLMClient answers each Generate call by recognizing the agent
// from its system prompt. Every request is recorded; an Override takes
// precedence when it returns a non-nil chunk list.
type ScriptedLLMClient struct {
	mu     sync.Mutex
	inputs []*agent.GenerateInput

	// Override, when set, is consulted first. Returning nil falls back
	// to the default per-node replies.
	Override func(ctx context.Context, in *agent.GenerateInput) []agent.Chunk
}

// NewScriptedLLMClient creates a scripted client with the default replies.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{}
}

func (s *ScriptedLLMClient) Generate(ctx context.Context, in *agent.GenerateInput) (<-chan agent.Chunk, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()

	var chunks []agent.Chunk
	if s.Override != nil {
		chunks = s.Override(ctx, in)
	}
	if chunks == nil {
		chunks = defaultReply(in)
	}
	ch := make(chan agent.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *ScriptedLLMClient) Close() error { return nil }

// Calls returns a copy of every request seen so far.
func (s *ScriptedLLMClient) Calls() []*agent.GenerateInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.GenerateInput(nil), s.inputs...)
}

// CallCount returns the number of Generate calls seen so far.
func (s *ScriptedLLMClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// SystemPromptOf returns the system message of a request, "" when absent.
func SystemPromptOf(in *agent.GenerateInput) string {
	if len(in.Messages) > 0 && in.Messages[0].Role == agent.RoleSystem {
		return in.Messages[0].Content
	}
	return ""
}

// TextReply wraps plain text in a single-chunk reply.
func TextReply(text string) []agent.Chunk {
	return []agent.Chunk{&agent.TextChunk{Content: text}}
}

func defaultReply(in *agent.GenerateInput) []agent.Chunk {
	system := SystemPromptOf(in)
	switch {
	case strings.Contains(system, "数据总结智能体"):
		return TextReply(happySummaryJSON)
	case strings.Contains(system, "看涨研究员"):
		return TextReply("上涨动能充足，盈利趋势向好。")
	case strings.Contains(system, "看跌研究员"):
		return TextReply("估值过高，下行风险集中。")
	case strings.Contains(system, "研究经理"):
		return TextReply("买入。建仓策略：回调分批建仓，目标价 12 元。")
	case strings.Contains(system, "交易员"):
		return TextReply("建议买入，首仓三成，止损 9.8 元。")
	case strings.Contains(system, "激进派"):
		return TextReply("高收益窗口明确，值得积极参与。")
	case strings.Contains(system, "保守派"):
		return TextReply("必须先限定回撤，控制单笔敞口。")
	case strings.Contains(system, "中立派"):
		return TextReply("建议折中执行，分批控制节奏。")
	case strings.Contains(system, "风险经理"):
		return TextReply("最终裁决：买入，风险等级中等，严格执行止损。")
	case strings.Contains(system, "情绪分析师"):
		return TextReply("讨论热度回升，情绪面积极。")
	default:
		return TextReply("技术面走强，均线多头排列。")
	}
}
