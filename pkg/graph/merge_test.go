package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/models"
)

func TestApplyDelta_ReportsWriteTypedFieldsToo(t *testing.T) {
	state := &models.AnalysisState{Reports: map[string]string{}}

	applyDelta(state, &models.StateDelta{Reports: map[string]string{
		"market_report": "技术面走强。",
		"custom_report": "自定义分析。",
	}})

	assert.Equal(t, "技术面走强。", state.MarketReport)
	assert.Equal(t, "技术面走强。", state.Reports["market_report"])
	assert.Equal(t, "自定义分析。", state.Reports["custom_report"])

	// Empty content never clobbers an existing report.
	applyDelta(state, &models.StateDelta{Reports: map[string]string{"market_report": ""}})
	assert.Equal(t, "技术面走强。", state.MarketReport)
}

func TestApplyDelta_FinalDecisionWrittenOnce(t *testing.T) {
	state := &models.AnalysisState{}

	applyDelta(state, &models.StateDelta{FinalTradeDecision: "最终裁决：买入。"})
	applyDelta(state, &models.StateDelta{FinalTradeDecision: "后来者想覆盖"})

	assert.Equal(t, "最终裁决：买入。", state.FinalTradeDecision)
}

func TestApplyDelta_ScalarsAndMessages(t *testing.T) {
	state := &models.AnalysisState{InvestmentPlan: "原计划"}

	applyDelta(state, nil)
	assert.Equal(t, "原计划", state.InvestmentPlan)

	applyDelta(state, &models.StateDelta{
		InvestmentPlan:       "新计划",
		TraderInvestmentPlan: "交易方案",
		CompanyName:          "贵州茅台",
		Messages:             []models.StateMessage{{Name: "market_report", Content: "x"}},
	})
	applyDelta(state, &models.StateDelta{
		Messages: []models.StateMessage{{Name: "sentiment_report", Content: "y"}},
	})

	assert.Equal(t, "新计划", state.InvestmentPlan)
	assert.Equal(t, "交易方案", state.TraderInvestmentPlan)
	assert.Equal(t, "贵州茅台", state.CompanyName)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "sentiment_report", state.Messages[1].Name)
}

func TestApplyDelta_DebateStatesReplaceWholesale(t *testing.T) {
	state := &models.AnalysisState{
		InvestDebate: models.InvestDebateState{Count: 1, History: "旧记录"},
	}

	applyDelta(state, &models.StateDelta{
		InvestDebate: &models.InvestDebateState{Count: 2, History: "旧记录\n新发言"},
		RiskDebate:   &models.RiskDebateState{Count: 1, LatestSpeaker: "Risky Analyst"},
	})

	assert.Equal(t, 2, state.InvestDebate.Count)
	assert.Contains(t, state.InvestDebate.History, "新发言")
	assert.Equal(t, "Risky Analyst", state.RiskDebate.LatestSpeaker)

	summary := models.DefaultSummaryParseFailure()
	applyDelta(state, &models.StateDelta{StructuredSummary: &summary})
	require.NotNil(t, state.StructuredSummary)
	assert.Equal(t, 50, state.StructuredSummary.ModelConfidence)
}
