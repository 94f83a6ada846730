package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/models"
)

// Debate node names. These are the graph-level identifiers the progress
// sink resolves to display labels.
const (
	nodeBullResearcher  = "Bull Researcher"
	nodeBearResearcher  = "Bear Researcher"
	nodeResearchManager = "Research Manager"
	nodeTrader          = "Trader"
)

// debateSide parameterizes the shared researcher node for one camp.
type debateSide struct {
	slug      string // record slug in the phase-2 file
	node      string // graph node name
	marker    string // speaker marker used in transcript prefixes
	opponent  string // how the other camp is referred to
	reportKey string // Reports map key for the accumulated side report

	openingFocus  string // what the opening statement should establish
	openingTitle  string
	rebuttalTitle string // fmt with the round number
}

var bullSide = debateSide{
	slug:          "bull-researcher",
	node:          nodeBullResearcher,
	marker:        "多头分析师",
	opponent:      "看跌分析师",
	reportKey:     "bull_researcher",
	openingFocus:  "核心投资论点",
	openingTitle:  "## 初始报告：核心投资论点",
	rebuttalTitle: "## 第 %d 轮辩论报告：针对空方观点的反驳与辩护",
}

var bearSide = debateSide{
	slug:          "bear-researcher",
	node:          nodeBearResearcher,
	marker:        "空头分析师",
	opponent:      "看涨分析师",
	reportKey:     "bear_researcher",
	openingFocus:  "核心风险论点",
	openingTitle:  "## 初始报告：核心风险论点",
	rebuttalTitle: "## 第 %d 轮辩论报告：针对多方观点的反驳与质疑",
}

// nextInvestSpeaker implements the rotation rule: the latest utterance's
// speaker marker decides who talks next, defaulting to the bull side when
// the marker is unrecognizable (including the very first turn).
func nextInvestSpeaker(debate models.InvestDebateState) string {
	latest := debate.CurrentResponse
	switch {
	case strings.HasPrefix(latest, "Bull") || strings.Contains(latest, "【多头"):
		return nodeBearResearcher
	case strings.HasPrefix(latest, "Bear") || strings.Contains(latest, "【空头"):
		return nodeBullResearcher
	default:
		return nodeBullResearcher
	}
}

// runResearcher executes one bull or bear utterance.
//
// Round 0 is an opening statement grounded on the Stage-A reports only.
// Later rounds additionally see both camps' earlier rounds, each labelled
// 回顾 and attributed: the side's own text arrives as assistant messages,
// the opponent's as user messages. The system prompt stays static across
// rounds; the round trigger is always the trailing user message.
func (e *Engine) runResearcher(ctx context.Context, in *RunInput, state *models.AnalysisState, side debateSide) (*models.StateDelta, error) {
	record, err := e.stageRecord(2, side.slug)
	if err != nil {
		return nil, err
	}

	debate := state.InvestDebate
	roundIdx := debate.CurrentRoundIndex

	msgs := []agent.ConversationMessage{{
		Role:    agent.RoleSystem,
		Content: contextPrefix(state) + "\n\n" + record.RoleDefinition,
	}}
	msgs = append(msgs, reportMessages(state, e.displayNames())...)
	msgs = append(msgs, debateHistoryMessages(debate.Rounds, roundIdx, side)...)
	msgs = append(msgs, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: debateTrigger(debate, roundIdx, side),
	})

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID:   in.TaskID,
		Messages: msgs,
		Config:   in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("%s 第 %d 轮发言失败: %w", side.marker, roundIdx, err)
	}
	content := stripHeadings(resp.Text)

	for roundIdx >= len(debate.Rounds) {
		debate.Rounds = append(debate.Rounds, models.DebateRound{})
	}
	if side.node == nodeBullResearcher {
		debate.Rounds[roundIdx].Bull = content
	} else {
		debate.Rounds[roundIdx].Bear = content
	}

	// Accumulate the side report, skipping a round whose section title is
	// already present (a retried node must not duplicate content).
	sectionTitle := side.openingTitle
	if roundIdx > 0 {
		sectionTitle = fmt.Sprintf(side.rebuttalTitle, roundIdx)
	}
	accumulated := debate.BullReportContent
	if side.node == nodeBearResearcher {
		accumulated = debate.BearReportContent
	}
	if strings.Contains(accumulated, sectionTitle) {
		e.logger.Warn("Debate section already present, skipping append",
			"task_id", in.TaskID, "side", side.slug, "round", roundIdx)
	} else {
		accumulated += fmt.Sprintf("\n\n%s\n\n%s", sectionTitle, content)
	}

	prefix := fmt.Sprintf("# 【%s - 初始报告】", side.marker)
	if roundIdx > 0 {
		prefix = fmt.Sprintf("# 【%s - 第 %d 轮辩论】", side.marker, roundIdx)
	}
	argument := prefix + "\n" + content

	sideHistory := debate.BullHistory
	if side.node == nodeBearResearcher {
		sideHistory = debate.BearHistory
	}
	if !strings.Contains(sideHistory, prefix) {
		debate.History += "\n" + argument
		sideHistory += "\n" + argument
	}

	if side.node == nodeBullResearcher {
		debate.BullReportContent = accumulated
		debate.BullHistory = sideHistory
	} else {
		debate.BearReportContent = accumulated
		debate.BearHistory = sideHistory
	}

	debate.Count++
	debate.CurrentRoundIndex = debate.Count / 2
	debate.CurrentResponse = argument
	debate.LatestSpeaker = side.node

	return &models.StateDelta{
		InvestDebate: &debate,
		Reports:      map[string]string{side.reportKey: accumulated},
	}, nil
}

// debateHistoryMessages rebuilds both camps' earlier rounds for context
// injection. Nothing is injected during the opening round.
func debateHistoryMessages(rounds []models.DebateRound, roundIdx int, side debateSide) []agent.ConversationMessage {
	if roundIdx == 0 {
		return nil
	}
	var msgs []agent.ConversationMessage
	for i := 0; i < roundIdx && i < len(rounds); i++ {
		own, theirs := rounds[i].Bull, rounds[i].Bear
		if side.node == nodeBearResearcher {
			own, theirs = rounds[i].Bear, rounds[i].Bull
		}
		stage := "初始阶段"
		if i > 0 {
			stage = fmt.Sprintf("辩论第 %d 轮", i)
		}
		if own != "" {
			label := fmt.Sprintf("【回顾】这是我在【%s】建立的核心论点：", stage)
			if i > 0 {
				label = fmt.Sprintf("【回顾】这是我在【%s】建立的论点：", stage)
			}
			msgs = append(msgs, agent.ConversationMessage{
				Role:    agent.RoleAssistant,
				Content: label + "\n" + own,
			})
		}
		if theirs != "" {
			msgs = append(msgs, agent.ConversationMessage{
				Role:    agent.RoleUser,
				Content: fmt.Sprintf("【回顾】这是对手（%s）在【%s】提出的观点：\n%s", side.opponent, stage, theirs),
			})
		}
	}
	return msgs
}

// debateTrigger is the trailing round instruction. Round-specific text
// lives here, never in the system prompt, to keep the prompt cacheable.
func debateTrigger(debate models.InvestDebateState, roundIdx int, side debateSide) string {
	if roundIdx == 0 {
		return "当前分析阶段：初始观点陈述（基于第一阶段报告生成初始分析报告）\n" +
			fmt.Sprintf("请基于提供的基础报告，撰写你的【初始分析报告】。重点阐述%s，构建完整的逻辑框架。本阶段暂不需要反驳对手（因为辩论尚未开始）。", side.openingFocus)
	}
	trigger := fmt.Sprintf("当前分析阶段：辩论第 %d 轮（共 %d 轮辩论）\n现在是辩论第 %d 轮。请严格按照 System Prompt 中的【任务指南】开始发言。",
		roundIdx, debate.MaxRounds, roundIdx)

	prev := roundIdx - 1
	if prev >= 0 && prev < len(debate.Rounds) {
		opponentSpoke := debate.Rounds[prev].Bear != ""
		if side.node == nodeBearResearcher {
			opponentSpoke = debate.Rounds[prev].Bull != ""
		}
		if opponentSpoke {
			trigger += "\n请特别注意反驳对手刚刚提出的最新观点（见上文）。"
		}
	}
	return trigger
}

// runResearchManager consolidates the finished debate into the research
// view and a definitive judge decision.
func (e *Engine) runResearchManager(ctx context.Context, in *RunInput, state *models.AnalysisState) (*models.StateDelta, error) {
	record, err := e.stageRecord(2, "research-manager")
	if err != nil {
		return nil, err
	}

	msgs := []agent.ConversationMessage{{
		Role:    agent.RoleSystem,
		Content: contextPrefix(state) + "\n\n" + record.RoleDefinition,
	}}
	msgs = append(msgs, reportMessages(state, e.displayNames())...)
	if h := strings.TrimSpace(state.InvestDebate.History); h != "" {
		msgs = append(msgs, agent.ConversationMessage{
			Role:    agent.RoleUser,
			Content: "以下是多空双方的完整辩论记录：\n" + h,
		})
	}
	msgs = append(msgs, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: "辩论已结束。请综合双方论点与基础报告，给出明确的投资倾向（买入/卖出/持有），并制定完整的投资计划：核心逻辑、建仓策略、目标价位与风险控制。",
	})

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID:   in.TaskID,
		Messages: msgs,
		Config:   in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("研究经理决策失败: %w", err)
	}

	plan := strings.TrimSpace(resp.Text)
	debate := state.InvestDebate
	debate.JudgeDecision = plan

	return &models.StateDelta{
		InvestDebate:   &debate,
		InvestmentPlan: plan,
	}, nil
}

// runTrader turns the research view into the actionable trading plan.
func (e *Engine) runTrader(ctx context.Context, in *RunInput, state *models.AnalysisState) (*models.StateDelta, error) {
	record, err := e.stageRecord(2, "trader")
	if err != nil {
		return nil, err
	}

	msgs := []agent.ConversationMessage{{
		Role:    agent.RoleSystem,
		Content: contextPrefix(state) + "\n\n" + record.RoleDefinition,
	}}
	msgs = append(msgs, reportMessages(state, e.displayNames())...)
	msgs = append(msgs, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: "这是研究经理给出的投资计划：\n" + state.InvestmentPlan,
	})
	msgs = append(msgs, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: "请基于投资计划制定具体的交易执行方案：仓位比例、入场区间、止盈止损位和执行节奏，并以明确的交易建议结尾。",
	})

	resp, err := agent.CallLLM(ctx, e.llm, &agent.GenerateInput{
		TaskID:   in.TaskID,
		Messages: msgs,
		Config:   in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("交易员决策失败: %w", err)
	}

	return &models.StateDelta{TraderInvestmentPlan: strings.TrimSpace(resp.Text)}, nil
}

// stageRecord resolves a fixed-stage record; a missing record is a node
// error because these prompts have no built-in fallback.
func (e *Engine) stageRecord(phase int, slug string) (*agents.Record, error) {
	record, err := e.records.Find(phase, slug)
	if err != nil {
		return nil, err
	}
	if record == nil || record.RoleDefinition == "" {
		return nil, fmt.Errorf("未找到 %s 智能体配置，请检查 phase%d_agents_config.yaml 文件", slug, phase)
	}
	return record, nil
}
