package models

// Summary signal and risk-level vocabularies. The generator prompt pins
// these exact values; the validator rejects anything else.
const (
	SignalBuy  = "Buy"
	SignalSell = "Sell"
	SignalHold = "Hold"

	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// KeyIndicators are the price levels extracted from the analysis. They are
// descriptive strings, not numbers: the generator reports what the analysis
// supports ("约 12.5 元附近分批建仓"), not a fabricated point value.
type KeyIndicators struct {
	EntryPrice      string `json:"entry_price"`
	TargetPrice     string `json:"target_price"`
	StopLoss        string `json:"stop_loss"`
	SupportLevel    string `json:"support_level,omitempty"`
	ResistanceLevel string `json:"resistance_level,omitempty"`
}

// RiskAssessment grades the analysed position.
type RiskAssessment struct {
	Level       string  `json:"level"` // High / Medium / Low
	Score       float64 `json:"score"` // 0..10
	Description string  `json:"description"`
}

// Reference is one source the summary leaned on.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// StructuredSummary is the machine-readable distillation of one completed
// analysis, shaped for the dashboard. The generator must emit strict JSON
// matching this shape; anything else is replaced by a deterministic default.
type StructuredSummary struct {
	KeyIndicators            KeyIndicators  `json:"key_indicators"`
	ModelConfidence          int            `json:"model_confidence"` // 0..100
	RiskAssessment           RiskAssessment `json:"risk_assessment"`
	AnalysisSummary          string         `json:"analysis_summary"`          // plaintext, ≤200 chars
	InvestmentRecommendation string         `json:"investment_recommendation"` // plaintext, ≤200 chars
	AnalysisReference        []Reference    `json:"analysis_reference"`
	FinalSignal              string         `json:"final_signal"` // Buy / Sell / Hold
}

// DefaultSummaryParseFailure is used when the generator replied but the
// reply could not be parsed or validated against the summary schema.
func DefaultSummaryParseFailure() StructuredSummary {
	return StructuredSummary{
		KeyIndicators:     KeyIndicators{EntryPrice: "N/A", TargetPrice: "N/A", StopLoss: "N/A"},
		ModelConfidence:   50,
		RiskAssessment:    RiskAssessment{Level: RiskMedium, Score: 5.0, Description: "解析失败，使用默认值"},
		AnalysisSummary:   "分析摘要暂无",
		AnalysisReference: []Reference{},
		FinalSignal:       SignalHold,
	}
}

// DefaultSummaryGenerationFailure is used when summary generation itself
// failed: the LLM call errored or the underlying reports consist of
// fetch-failure markers. Confidence is pinned to zero so the dashboard
// never presents a fabricated view over missing data.
func DefaultSummaryGenerationFailure() StructuredSummary {
	return StructuredSummary{
		KeyIndicators:            KeyIndicators{EntryPrice: "N/A", TargetPrice: "N/A", StopLoss: "N/A"},
		ModelConfidence:          0,
		RiskAssessment:           RiskAssessment{Level: RiskLow, Score: 0.0, Description: "数据获取失败，无法生成报告"},
		AnalysisSummary:          "数据获取失败",
		InvestmentRecommendation: "无建议",
		AnalysisReference:        []Reference{},
		FinalSignal:              SignalHold,
	}
}
