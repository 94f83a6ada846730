// Package graph runs the analysis stage machine: analyst fan-in, the
// bull/bear investment debate, the three-way risk debate, and the
// structured summary. Nodes read the shared AnalysisState and return
// deltas; the engine merges them and polls for cancellation between nodes.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/market"
	"github.com/quantflow/argus/pkg/models"
)

// ErrCancelled reports a clean between-node cancellation. The returned
// state still carries everything produced before the cancel was observed.
var ErrCancelled = errors.New("analysis cancelled")

// ProgressSink receives node-completion pushes from the running graph.
// Implementations resolve node names to display labels and percents.
type ProgressSink interface {
	NodeCompleted(ctx context.Context, taskID, nodeName string)
}

// NameLookup resolves a stock code to a display name. *market.NameResolver
// satisfies it.
type NameLookup interface {
	Name(ctx context.Context, code string) string
}

// ToolScoper builds the tool executor for one agent run given the agent's
// allow-list. Nil means the whole graph runs tool-less.
type ToolScoper func(ctx context.Context, allowList []string) agent.ToolExecutor

// Engine executes the stage machine for one task at a time. It is
// stateless across runs; all per-run state lives in the AnalysisState.
type Engine struct {
	records    *agents.Store
	llm        agent.LLMClient
	runner     *agent.Runner
	names      NameLookup
	reportsDir string
	logger     *slog.Logger
}

// NewEngine assembles the graph engine. names may be nil; reportsDir may be
// empty to disable report markdown persistence.
func NewEngine(records *agents.Store, llm agent.LLMClient, names NameLookup, reportsDir string) *Engine {
	return &Engine{
		records:    records,
		llm:        llm,
		runner:     agent.NewRunner(llm),
		names:      names,
		reportsDir: reportsDir,
		logger:     slog.Default().With("component", "graph"),
	}
}

// RunInput is everything one analysis run needs beyond the engine itself.
type RunInput struct {
	TaskID   string
	Params   models.AnalysisParams
	Provider *config.LLMProviderConfig

	// Tools builds per-agent executors; nil disables tools.
	Tools ToolScoper

	// Progress receives (task, node) completion pushes; nil discards them.
	Progress ProgressSink

	// Cancelled is polled between nodes; nil means never cancelled.
	Cancelled func() bool

	// Resolved by resolveDepth from Params.
	maxIterations   int
	maxDebateRounds int
	maxRiskRounds   int
}

// Run drives the four stages to completion. The returned state is always
// non-nil and carries whatever the graph produced; a non-nil error means
// the task failed (or ErrCancelled for a clean cancel). On node failure
// the structured summary is still generated from the partial state.
func (e *Engine) Run(ctx context.Context, in *RunInput) (*models.AnalysisState, error) {
	resolveDepth(in)
	state := e.initState(ctx, in)
	writer := newReportWriter(e.reportsDir, state.Symbol, state.TradeDate, e.logger)

	e.logger.Info("Analysis graph starting",
		"task_id", in.TaskID, "symbol", state.Symbol, "company", state.CompanyName,
		"trade_date", state.TradeDate, "debate_rounds", in.maxDebateRounds,
		"risk_rounds", in.maxRiskRounds)

	runErr := e.runStages(ctx, in, state, writer)

	switch {
	case runErr == nil:
		e.logger.Info("Analysis graph completed", "task_id", in.TaskID, "symbol", state.Symbol)
	case errors.Is(runErr, ErrCancelled):
		e.logger.Info("Analysis graph cancelled", "task_id", in.TaskID, "symbol", state.Symbol)
	default:
		state.LastError = runErr.Error()
		e.logger.Error("Analysis graph failed",
			"task_id", in.TaskID, "symbol", state.Symbol, "error", runErr)
		// Best-effort summary over the partial state, unless the context
		// itself is gone.
		if state.StructuredSummary == nil && ctx.Err() == nil {
			applyDelta(state, e.runSummary(ctx, in, state))
		}
	}
	return state, runErr
}

// runStages executes A → B → C → D sequentially with cancellation polls at
// every node boundary.
func (e *Engine) runStages(ctx context.Context, in *RunInput, state *models.AnalysisState, writer *reportWriter) error {
	// Stage A: one generic agent per enabled analyst record.
	analysts, err := e.enabledAnalysts(in)
	if err != nil {
		return err
	}
	for _, record := range analysts {
		if err := e.checkCancel(ctx, in); err != nil {
			return err
		}
		applyDelta(state, e.runAnalyst(ctx, in, state, record))
		reportKey := record.InternalKey() + "_report"
		writer.write(reportKey, state.AllReports()[reportKey])
		e.nodeCompleted(ctx, in, record.NodeName())
	}

	// Stage B: bull/bear debate until both camps have spoken in every
	// round (opening plus maxDebateRounds rebuttals).
	state.InvestDebate.MaxRounds = in.maxDebateRounds
	maxUtterances := 2 * (in.maxDebateRounds + 1)
	for state.InvestDebate.Count < maxUtterances {
		if err := e.checkCancel(ctx, in); err != nil {
			return err
		}
		side := bullSide
		if nextInvestSpeaker(state.InvestDebate) == nodeBearResearcher {
			side = bearSide
		}
		delta, err := e.runResearcher(ctx, in, state, side)
		if err != nil {
			return err
		}
		applyDelta(state, delta)
		writer.write(side.reportKey, state.Reports[side.reportKey])
		e.nodeCompleted(ctx, in, side.node)
	}

	if err := e.checkCancel(ctx, in); err != nil {
		return err
	}
	delta, err := e.runResearchManager(ctx, in, state)
	if err != nil {
		return err
	}
	applyDelta(state, delta)
	writer.write("investment_plan", state.InvestmentPlan)
	e.nodeCompleted(ctx, in, nodeResearchManager)

	if err := e.checkCancel(ctx, in); err != nil {
		return err
	}
	delta, err = e.runTrader(ctx, in, state)
	if err != nil {
		return err
	}
	applyDelta(state, delta)
	writer.write("trader_investment_plan", state.TraderInvestmentPlan)
	e.nodeCompleted(ctx, in, nodeTrader)

	// Stage C: risky → safe → neutral rotation, then the judge.
	maxRiskUtterances := 3 * in.maxRiskRounds
	for state.RiskDebate.Count < maxRiskUtterances {
		if err := e.checkCancel(ctx, in); err != nil {
			return err
		}
		side := nextRiskSpeaker(state.RiskDebate)
		delta, err := e.runRiskDebator(ctx, in, state, side)
		if err != nil {
			return err
		}
		applyDelta(state, delta)
		e.nodeCompleted(ctx, in, side.node)
	}

	if err := e.checkCancel(ctx, in); err != nil {
		return err
	}
	delta, err = e.runRiskJudge(ctx, in, state)
	if err != nil {
		return err
	}
	applyDelta(state, delta)
	writer.write("final_trade_decision", state.FinalTradeDecision)
	e.nodeCompleted(ctx, in, nodeRiskJudge)

	// Stage D: the structured summary never errors.
	if err := e.checkCancel(ctx, in); err != nil {
		return err
	}
	applyDelta(state, e.runSummary(ctx, in, state))
	e.nodeCompleted(ctx, in, nodeReportWriter)

	return nil
}

// initState seeds the shared state from the task parameters.
func (e *Engine) initState(ctx context.Context, in *RunInput) *models.AnalysisState {
	symbol := strings.TrimSpace(in.Params.Symbol)
	marketType := in.Params.MarketType
	if marketType == "" {
		marketType = "A股"
	}
	tradeDate := in.Params.AnalysisDate
	if tradeDate == "" {
		tradeDate = time.Now().Format("2006-01-02")
	}
	return &models.AnalysisState{
		Symbol:      symbol,
		CompanyName: e.companyName(ctx, symbol, marketType),
		TradeDate:   tradeDate,
		MarketType:  marketType,
		Reports:     make(map[string]string),
		InvestDebate: models.InvestDebateState{
			MaxRounds: in.maxDebateRounds,
		},
	}
}

// companyName resolves the display name. A-share names come from the
// listing feeds; other markets get a labelled code fallback.
func (e *Engine) companyName(ctx context.Context, symbol, marketType string) string {
	switch marketType {
	case "港股":
		return "港股" + strings.TrimSuffix(strings.TrimSuffix(symbol, ".HK"), ".hk")
	case "美股":
		return "美股" + strings.ToUpper(symbol)
	}
	if e.names != nil {
		if name := e.names.Name(ctx, symbol); name != "" && name != symbol {
			return name
		}
	}
	return "股票代码" + symbol
}

// enabledAnalysts returns the Stage-A records to execute, honoring the
// request's analyst selection. A selection that matches nothing falls back
// to the full enabled set; an empty record store is a hard error since the
// debate would be grounded on nothing.
func (e *Engine) enabledAnalysts(in *RunInput) ([]agents.Record, error) {
	records, err := e.records.Records()
	if err != nil {
		return nil, fmt.Errorf("加载分析师配置失败: %w", err)
	}
	enabled := agents.EnabledAnalysts(records)
	if len(enabled) == 0 {
		return nil, errors.New("没有可用的分析师配置，无法执行分析")
	}
	selected, matched := agents.SelectAnalysts(enabled, in.Params.Analysts)
	if !matched {
		e.logger.Warn("Requested analysts matched no records, running full set",
			"task_id", in.TaskID, "requested", in.Params.Analysts)
	}
	return selected, nil
}

// displayNames maps report keys to titles via the current analyst records.
func (e *Engine) displayNames() map[string]string {
	records, err := e.records.Records()
	if err != nil {
		return nil
	}
	return reportDisplayNames(records)
}

func (e *Engine) checkCancel(ctx context.Context, in *RunInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Cancelled != nil && in.Cancelled() {
		return ErrCancelled
	}
	return nil
}

func (e *Engine) nodeCompleted(ctx context.Context, in *RunInput, node string) {
	if in.Progress != nil {
		in.Progress.NodeCompleted(ctx, in.TaskID, node)
	}
}

// resolveDepth folds the research-depth knob into concrete bounds.
// Explicit round counts always win over the derived ones.
func resolveDepth(in *RunInput) {
	depth := in.Params.ResearchDepth

	in.maxDebateRounds = in.Params.MaxDebateRounds
	if in.maxDebateRounds <= 0 {
		in.maxDebateRounds = 1
		if depth >= 3 {
			in.maxDebateRounds = 2
		}
	}
	in.maxRiskRounds = in.Params.MaxRiskRounds
	if in.maxRiskRounds <= 0 {
		in.maxRiskRounds = 1
		if depth >= 3 {
			in.maxRiskRounds = 2
		}
	}
	switch {
	case depth == 1:
		in.maxIterations = 6
	case depth >= 3:
		in.maxIterations = 10
	default:
		in.maxIterations = agent.DefaultMaxIterations
	}
}

// Ensure market.NameResolver keeps satisfying NameLookup.
var _ NameLookup = (*market.NameResolver)(nil)
