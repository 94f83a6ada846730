package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/store"
)

func TestManager_StatusLayers(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	t.Run("durable row answers when nothing is resident", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "000001"}))
		require.NoError(t, fx.tasks.MarkRunning(ctx, id))
		require.NoError(t, fx.tasks.UpdateProgress(ctx, id, 42, "📊 市场技术分析师", "市场分析中"))

		view, err := fx.manager.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "analysis_tasks", view.Source)
		assert.Equal(t, models.TaskStatusRunning, view.Status)
		assert.Equal(t, 42.0, view.Progress)
		assert.Equal(t, "000001", view.Symbol)
		require.NotNil(t, view.StartTime)
		assert.GreaterOrEqual(t, view.ElapsedTime, 0.0)
		assert.Nil(t, view.EndTime)
	})

	t.Run("pending row reports zero elapsed", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "000002"}))

		view, err := fx.manager.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, view.Status)
		assert.Zero(t, view.ElapsedTime)
	})

	t.Run("report row synthesizes a completed view", func(t *testing.T) {
		require.NoError(t, fx.reports.SaveReport(ctx, &models.AnalysisReport{
			AnalysisID:   "hist-a",
			TaskID:       "hist-task",
			Symbol:       "600519",
			AnalysisDate: "2026-03-01",
			Summary:      "多空分歧明显。",
		}))

		view, err := fx.manager.Status(ctx, "hist-task")
		require.NoError(t, err)
		assert.Equal(t, "analysis_reports", view.Source)
		assert.Equal(t, models.TaskStatusCompleted, view.Status)
		assert.Equal(t, 100.0, view.Progress)
		assert.Equal(t, "分析完成（从历史记录恢复）", view.Message)
		assert.Equal(t, "600519", view.Symbol)
		require.NotNil(t, view.StartTime)
		require.NotNil(t, view.EndTime)
		assert.GreaterOrEqual(t, view.ElapsedTime, 0.0)
	})

	t.Run("unknown everywhere", func(t *testing.T) {
		_, err := fx.manager.Status(ctx, "no-such-task")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestManager_ResultLayers(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	longState := strings.Repeat(longReport, 2)

	t.Run("task row result hydrates from the embedded state", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "000001"}))
		require.NoError(t, fx.tasks.SetTerminal(ctx, id, models.TaskStatusCompleted, map[string]any{
			"analysis_id":   "a-1",
			"stock_symbol":  "000001",
			"analysis_date": "2026-03-02",
			"status":        "completed",
			"state": map[string]any{
				"market_report":        longState,
				"final_trade_decision": "最终裁决：买入，风险等级中等，严格执行止损。",
				"investment_debate_state": map[string]any{
					"judge_decision": "买入。建仓策略：回调分批建仓执行。",
				},
			},
		}, ""))

		res, err := fx.manager.Result(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "analysis_tasks", res.Source)
		assert.Equal(t, "a-1", res.AnalysisID)
		assert.Equal(t, longState, res.Reports["market_report"])
		assert.Contains(t, res.Reports, "research_team_decision")
		assert.Equal(t, "最终裁决：买入，风险等级中等，严格执行止损。", res.Recommendation)
		assert.Equal(t, longState, res.Summary)
		assert.NotEmpty(t, res.KeyPoints)
	})

	t.Run("report row wins over the task row", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "600519"}))
		require.NoError(t, fx.tasks.SetTerminal(ctx, id, models.TaskStatusCompleted,
			map[string]any{"summary": "任务行摘要。"}, ""))
		require.NoError(t, fx.reports.SaveReport(ctx, &models.AnalysisReport{
			AnalysisID:   "a-2",
			TaskID:       id,
			Symbol:       "600519",
			AnalysisDate: "2026-03-02",
			Summary:      "报告行摘要。",
			Reports:      map[string]string{"market_report": longState},
		}))

		res, err := fx.manager.Result(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "analysis_reports", res.Source)
		assert.Equal(t, "a-2", res.AnalysisID)
		assert.Equal(t, "报告行摘要。", res.Summary)
		assert.Equal(t, longState, res.Reports["market_report"])
	})

	t.Run("embedded analysis id reaches an unlinked report", func(t *testing.T) {
		require.NoError(t, fx.reports.SaveReport(ctx, &models.AnalysisReport{
			AnalysisID:     "a-33",
			Symbol:         "300750",
			AnalysisDate:   "2026-03-02",
			Recommendation: "建议分批买入。",
		}))
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "300750"}))
		require.NoError(t, fx.tasks.SetTerminal(ctx, id, models.TaskStatusCompleted,
			map[string]any{"analysis_id": "a-33"}, ""))

		res, err := fx.manager.Result(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "analysis_reports", res.Source)
		assert.Equal(t, "a-33", res.AnalysisID)
		assert.Equal(t, "建议分批买入。", res.Recommendation)
	})

	t.Run("report files on disk backfill missing reports", func(t *testing.T) {
		dir := filepath.Join(fx.reportsDir, "600777", "2026-03-02", "reports")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "market_report.md"), []byte(longState), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.md"), []byte("来自磁盘的摘要。"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "600777"}))
		require.NoError(t, fx.tasks.SetTerminal(ctx, id, models.TaskStatusCompleted, map[string]any{
			"stock_symbol":  "600777",
			"analysis_date": "2026-03-02",
			"status":        "completed",
		}, ""))

		res, err := fx.manager.Result(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, longState, res.Reports["market_report"])
		assert.Equal(t, "来自磁盘的摘要。", res.Reports["summary"])
		assert.NotContains(t, res.Reports, "notes")
		assert.Equal(t, "来自磁盘的摘要。", res.Summary)
	})

	t.Run("row without any result is not found", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, fx.tasks.CreateTask(ctx, &models.AnalysisTask{TaskID: id, Symbol: "000001"}))

		_, err := fx.manager.Result(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown everywhere", func(t *testing.T) {
		_, err := fx.manager.Result(ctx, "no-such-task")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestManager_Listings(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		user   string
		symbol string
	}{
		{"alice", "600519"},
		{"alice", "000001"},
		{"bob", "300750"},
	} {
		task := &models.AnalysisTask{TaskID: uuid.New().String(), UserID: tc.user, Symbol: tc.symbol}
		require.NoError(t, fx.tasks.CreateTask(ctx, task))
	}

	t.Run("user listing is forced to the caller", func(t *testing.T) {
		resp, err := fx.manager.ListUserTasks(ctx, "alice", models.TaskFilters{UserID: "bob"})
		require.NoError(t, err)
		assert.Equal(t, 2, resp.TotalCount)
		for _, task := range resp.Tasks {
			assert.Equal(t, "alice", task.UserID)
		}
	})

	t.Run("admin listing sees everyone", func(t *testing.T) {
		resp, err := fx.manager.ListAllTasks(ctx, models.TaskFilters{})
		require.NoError(t, err)
		assert.Equal(t, 3, resp.TotalCount)
	})

	t.Run("history serves persisted reports", func(t *testing.T) {
		require.NoError(t, fx.reports.SaveReport(ctx, &models.AnalysisReport{
			AnalysisID:   "hist-1",
			UserID:       "alice",
			Symbol:       "600519",
			AnalysisDate: "2026-03-01",
			Summary:      "多空分歧明显。",
		}))

		resp, err := fx.manager.History(ctx, models.ReportFilters{Symbol: "600519"})
		require.NoError(t, err)
		require.Len(t, resp.Reports, 1)
		assert.Equal(t, "hist-1", resp.Reports[0].AnalysisID)
	})
}
