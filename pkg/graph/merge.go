package graph

import "github.com/quantflow/argus/pkg/models"

// applyDelta folds one node's contribution into the shared state:
// last-writer-wins for scalar fields, map-merge for Reports, append for
// Messages. Report keys with typed state fields get both writes.
func applyDelta(state *models.AnalysisState, delta *models.StateDelta) {
	if delta == nil {
		return
	}
	for key, content := range delta.Reports {
		if content != "" {
			state.SetReport(key, content)
		}
	}
	if delta.InvestDebate != nil {
		state.InvestDebate = *delta.InvestDebate
	}
	if delta.RiskDebate != nil {
		state.RiskDebate = *delta.RiskDebate
	}
	if delta.InvestmentPlan != "" {
		state.InvestmentPlan = delta.InvestmentPlan
	}
	if delta.TraderInvestmentPlan != "" {
		state.TraderInvestmentPlan = delta.TraderInvestmentPlan
	}
	if delta.FinalTradeDecision != "" && state.FinalTradeDecision == "" {
		// Written exactly once; later writers never clobber the judge.
		state.FinalTradeDecision = delta.FinalTradeDecision
	}
	if delta.StructuredSummary != nil {
		state.StructuredSummary = delta.StructuredSummary
	}
	if delta.CompanyName != "" {
		state.CompanyName = delta.CompanyName
	}
	state.Messages = append(state.Messages, delta.Messages...)
}
