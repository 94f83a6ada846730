package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/models"
)

// Risk-stage node names.
const (
	nodeRiskyAnalyst   = "Risky Analyst"
	nodeSafeAnalyst    = "Safe Analyst"
	nodeNeutralAnalyst = "Neutral Analyst"
	nodeRiskJudge      = "Risk Judge"
)

// riskSide parameterizes the shared risk-debator node for one stance.
type riskSide struct {
	slug    string
	node    string
	trigger string
}

var riskySide = riskSide{
	slug:    "risky-analyst",
	node:    nodeRiskyAnalyst,
	trigger: "请以激进派风险分析师的视角发言：论证高收益机会为什么值得承担风险，并直接反驳保守派和中立派的最新观点。",
}

var safeSide = riskSide{
	slug:    "safe-analyst",
	node:    nodeSafeAnalyst,
	trigger: "请以保守派风险分析师的视角发言：指出交易方案中的风险敞口和保护资产的必要措施，并直接反驳激进派和中立派的最新观点。",
}

var neutralSide = riskSide{
	slug:    "neutral-analyst",
	node:    nodeNeutralAnalyst,
	trigger: "请以中立派风险分析师的视角发言：权衡激进派与保守派的论点，给出平衡的风险评估与可执行的折中建议。",
}

// nextRiskSpeaker rotates risky → safe → neutral → risky. The first turn
// (no latest speaker) and any unrecognized marker start from risky.
func nextRiskSpeaker(debate models.RiskDebateState) riskSide {
	switch {
	case strings.HasPrefix(debate.LatestSpeaker, "Risky"):
		return safeSide
	case strings.HasPrefix(debate.LatestSpeaker, "Safe"):
		return neutralSide
	default:
		return riskySide
	}
}

// runRiskDebator executes one utterance of the three-way risk debate.
func (e *Engine) runRiskDebator(ctx context.Context, in *RunInput, state *models.AnalysisState, side riskSide) (*models.StateDelta, error) {
	record, err := e.stageRecord(3, side.slug)
	if err != nil {
		return nil, err
	}

	debate := state.RiskDebate

	msgs := []agent.ConversationMessage{{
		Role:    agent.RoleSystem,
		Content: contextPrefix(state) + "\n\n" + record.RoleDefinition,
	}}
	msgs = append(msgs, reportMessages(state, e.displayNames())...)
	if plan := strings.TrimSpace(state.TraderInvestmentPlan); plan != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "这是交易员制定的交易方案：\n" + plan,
		})
	}
	if h := strings.TrimSpace(debate.History); h != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "当前风险辩论记录：\n" + h,
		})
	}
	if highlight := latestRiskResponses(debate, side.node); highlight != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "其他分析师的最新观点：\n" + highlight,
		})
	}
	msgs = append(msgs, agent.ConversationMessage{Role: agent.RoleUser, Content: side.trigger})

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID:   in.TaskID,
		Messages: msgs,
		Config:   in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("%s 风险评估发言失败: %w", side.slug, err)
	}

	content := strings.TrimSpace(resp.Text)
	argument := side.node + ": " + content

	debate.History += "\n" + argument
	switch side.node {
	case nodeRiskyAnalyst:
		debate.RiskyHistory += "\n" + argument
		debate.CurrentRiskyResponse = argument
	case nodeSafeAnalyst:
		debate.SafeHistory += "\n" + argument
		debate.CurrentSafeResponse = argument
	case nodeNeutralAnalyst:
		debate.NeutralHistory += "\n" + argument
		debate.CurrentNeutralResponse = argument
	}
	debate.LatestSpeaker = side.node
	debate.Count++

	return &models.StateDelta{RiskDebate: &debate}, nil
}

// latestRiskResponses collects the other stances' most recent utterances so
// the speaker can rebut them directly even in a long transcript.
func latestRiskResponses(debate models.RiskDebateState, exceptNode string) string {
	var parts []string
	for node, response := range map[string]string{
		nodeRiskyAnalyst:   debate.CurrentRiskyResponse,
		nodeSafeAnalyst:    debate.CurrentSafeResponse,
		nodeNeutralAnalyst: debate.CurrentNeutralResponse,
	} {
		if node != exceptNode && response != "" {
			parts = append(parts, response)
		}
	}
	// Stable order: risky, safe, neutral.
	var ordered []string
	for _, prefix := range []string{nodeRiskyAnalyst, nodeSafeAnalyst, nodeNeutralAnalyst} {
		for _, p := range parts {
			if strings.HasPrefix(p, prefix) {
				ordered = append(ordered, p)
			}
		}
	}
	return strings.Join(ordered, "\n\n")
}

// runRiskJudge closes the risk debate with the definitive trade decision.
// The decision is written exactly once; the merge layer enforces that even
// if the node were re-entered.
func (e *Engine) runRiskJudge(ctx context.Context, in *RunInput, state *models.AnalysisState) (*models.StateDelta, error) {
	record, err := e.stageRecord(3, "risk-judge")
	if err != nil {
		return nil, err
	}

	msgs := []agent.ConversationMessage{{
		Role:    agent.RoleSystem,
		Content: contextPrefix(state) + "\n\n" + record.RoleDefinition,
	}}
	if plan := strings.TrimSpace(state.TraderInvestmentPlan); plan != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "这是交易员制定的交易方案：\n" + plan,
		})
	}
	if h := strings.TrimSpace(state.RiskDebate.History); h != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "这是三方风险辩论的完整记录：\n" + h,
		})
	}
	msgs = append(msgs, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: "风险辩论已结束。请综合三方观点，对交易方案做出最终裁决：明确的操作建议（买入/卖出/持有）、风险等级评估和关键的风控要求。",
	})

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID:   in.TaskID,
		Messages: msgs,
		Config:   in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("风险经理裁决失败: %w", err)
	}

	decision := strings.TrimSpace(resp.Text)
	debate := state.RiskDebate
	debate.JudgeDecision = decision

	return &models.StateDelta{
		RiskDebate:         &debate,
		FinalTradeDecision: decision,
	}, nil
}
