package models

// DebateRound holds the bull and bear utterances of one debate round.
// Round 0 is the opening statements; later rounds are rebuttals. A side's
// entry is empty until it has spoken in that round.
type DebateRound struct {
	Bull string `json:"bull,omitempty"`
	Bear string `json:"bear,omitempty"`
}

// InvestDebateState tracks the bull/bear research debate. Rounds is the
// source of truth; the transcript strings are derived projections kept for
// display and for the hydrator.
type InvestDebateState struct {
	Rounds            []DebateRound `json:"rounds,omitempty"`
	CurrentRoundIndex int           `json:"current_round_index"`
	MaxRounds         int           `json:"max_rounds"`

	// Accumulated per-side markdown, one titled section per round.
	BullReportContent string `json:"bull_report_content,omitempty"`
	BearReportContent string `json:"bear_report_content,omitempty"`

	History         string `json:"history,omitempty"`
	BullHistory     string `json:"bull_history,omitempty"`
	BearHistory     string `json:"bear_history,omitempty"`
	CurrentResponse string `json:"current_response,omitempty"` // last utterance with its speaker marker
	LatestSpeaker   string `json:"latest_speaker,omitempty"`
	JudgeDecision   string `json:"judge_decision,omitempty"`
	Count           int    `json:"count"`
}

// RiskDebateState tracks the risky/safe/neutral rotation.
type RiskDebateState struct {
	RiskyHistory           string `json:"risky_history,omitempty"`
	SafeHistory            string `json:"safe_history,omitempty"`
	NeutralHistory         string `json:"neutral_history,omitempty"`
	History                string `json:"history,omitempty"`
	LatestSpeaker          string `json:"latest_speaker,omitempty"`
	CurrentRiskyResponse   string `json:"current_risky_response,omitempty"`
	CurrentSafeResponse    string `json:"current_safe_response,omitempty"`
	CurrentNeutralResponse string `json:"current_neutral_response,omitempty"`
	JudgeDecision          string `json:"judge_decision,omitempty"`
	Count                  int    `json:"count"`
}

// AnalysisState is the single shared state threaded through the stage
// machine. Nodes return deltas; the engine merges them (last-writer-wins
// scalars, map-merge for Reports).
type AnalysisState struct {
	Symbol      string `json:"company_of_interest"`
	CompanyName string `json:"company_name,omitempty"`
	TradeDate   string `json:"trade_date"`
	MarketType  string `json:"market_type,omitempty"`

	// Reports keyed by report key ("market_report", "fundamentals_report",
	// "bull_researcher", …). Stage A writes both the map entry and the
	// matching flat field when one exists.
	Reports map[string]string `json:"reports,omitempty"`

	MarketReport       string `json:"market_report,omitempty"`
	SentimentReport    string `json:"sentiment_report,omitempty"`
	NewsReport         string `json:"news_report,omitempty"`
	FundamentalsReport string `json:"fundamentals_report,omitempty"`

	InvestDebate InvestDebateState `json:"investment_debate_state"`
	RiskDebate   RiskDebateState   `json:"risk_debate_state"`

	InvestmentPlan       string `json:"investment_plan,omitempty"`
	TraderInvestmentPlan string `json:"trader_investment_plan,omitempty"`
	FinalTradeDecision   string `json:"final_trade_decision,omitempty"`

	StructuredSummary *StructuredSummary `json:"structured_summary,omitempty"`

	// Messages are name markers appended by each node, the fallback report
	// locator when the map entry is lost to a merge.
	Messages []StateMessage `json:"messages,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// StateMessage is one node's appended message marker.
type StateMessage struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// StateDelta is a node's contribution to the shared state. Nil/zero fields
// leave the state untouched; Reports entries merge into the state map;
// Messages append.
type StateDelta struct {
	Reports      map[string]string
	InvestDebate *InvestDebateState
	RiskDebate   *RiskDebateState

	InvestmentPlan       string
	TraderInvestmentPlan string
	FinalTradeDecision   string

	StructuredSummary *StructuredSummary

	CompanyName string
	Messages    []StateMessage
}

// SetReport stores a report under its key and mirrors it into the typed
// state field when one exists. Unknown keys only live in the Reports map.
func (s *AnalysisState) SetReport(key, content string) {
	if s.Reports == nil {
		s.Reports = make(map[string]string)
	}
	s.Reports[key] = content
	switch key {
	case "market_report":
		s.MarketReport = content
	case "sentiment_report":
		s.SentimentReport = content
	case "news_report":
		s.NewsReport = content
	case "fundamentals_report":
		s.FundamentalsReport = content
	}
}

// AllReports returns the union of the Reports map and any typed report
// fields set directly, map entries winning.
func (s *AnalysisState) AllReports() map[string]string {
	out := make(map[string]string, len(s.Reports)+4)
	for key, content := range map[string]string{
		"market_report":       s.MarketReport,
		"sentiment_report":    s.SentimentReport,
		"news_report":         s.NewsReport,
		"fundamentals_report": s.FundamentalsReport,
	} {
		if content != "" {
			out[key] = content
		}
	}
	for key, content := range s.Reports {
		if content != "" {
			out[key] = content
		}
	}
	return out
}

// ToolCallRecord captures one tool invocation inside an agent run.
type ToolCallRecord struct {
	Tool       string         `json:"tool"`
	Server     string         `json:"server,omitempty"` // empty for local tools
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}
