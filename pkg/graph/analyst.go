package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/models"
)

// runAnalyst executes one Stage-A node: a generic tool-calling agent built
// from a declarative record. Its final answer is written three ways (typed
// field via the report key, Reports map entry, message marker) so any one
// surviving a merge is enough for downstream stages.
//
// An analyst whose run fails still yields a report: the error text becomes
// the report body and the pipeline continues on the remaining analysts.
func (e *Engine) runAnalyst(ctx context.Context, in *RunInput, state *models.AnalysisState, record agents.Record) *models.StateDelta {
	reportKey := record.InternalKey() + "_report"

	system := record.RoleDefinition
	if system == "" {
		system = "您是一位专业的金融分析师。"
	}
	system = strings.NewReplacer(
		"{current_date}", state.TradeDate,
		"{ticker}", state.Symbol,
		"{company_name}", state.CompanyName,
	).Replace(system)
	system += fmt.Sprintf("\n\n当前上下文信息:\n当前日期: %s\n股票代码: %s\n公司名称: %s\n请用中文回答。",
		state.TradeDate, state.Symbol, state.CompanyName)

	userPrompt := fmt.Sprintf("请分析 %s (%s)，日期 %s", state.CompanyName, state.Symbol, state.TradeDate)

	exec := e.executorFor(ctx, in, record.Tools)

	result, err := e.runner.Run(ctx, &agent.RunInput{
		TaskID:        in.TaskID,
		SystemPrompt:  system,
		UserPrompt:    userPrompt,
		Provider:      in.Provider,
		MaxIterations: in.maxIterations,
	}, exec)

	var report string
	switch {
	case err != nil:
		e.logger.Error("Analyst run failed",
			"task_id", in.TaskID, "analyst", record.Slug, "error", err)
		report = fmt.Sprintf("分析过程中发生错误: %v", err)
	case strings.TrimSpace(result.FinalText) == "":
		report = "分析未生成有效内容。"
	default:
		report = result.FinalText
		e.logger.Info("Analyst completed",
			"task_id", in.TaskID, "analyst", record.Slug,
			"iterations", result.Iterations, "tool_calls", result.ToolCalls,
			"report_chars", len(report))
	}

	return &models.StateDelta{
		Reports:  map[string]string{reportKey: report},
		Messages: []models.StateMessage{{Name: reportKey, Content: report}},
	}
}

// executorFor builds the per-agent tool executor honoring the record's
// allow-list. A nil scoper means the run is tool-less.
func (e *Engine) executorFor(ctx context.Context, in *RunInput, allowList []string) agent.ToolExecutor {
	if in.Tools == nil {
		return nil
	}
	return in.Tools(ctx, allowList)
}
