package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/store"
)

// TaskStatusView is the layered status payload. Source names the layer
// that answered: memory, analysis_tasks, or analysis_reports.
type TaskStatusView struct {
	TaskID      string            `json:"task_id"`
	Status      models.TaskStatus `json:"status"`
	Progress    float64           `json:"progress"`
	Message     string            `json:"message,omitempty"`
	CurrentNode string            `json:"current_node,omitempty"`
	Symbol      string            `json:"stock_symbol"`
	MarketType  string            `json:"market_type,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	ElapsedTime float64           `json:"elapsed_time"`
	Source      string            `json:"source"`
}

// Status reads task state through the layers: the in-memory table first,
// then the analysis_tasks row, and finally the analysis_reports row, from
// which a completed status is synthesized for tasks this process never ran.
func (m *Manager) Status(ctx context.Context, taskID string) (*TaskStatusView, error) {
	m.mu.RLock()
	if e, ok := m.table[taskID]; ok {
		view := statusFromTask(e.task, "memory")
		m.mu.RUnlock()
		return view, nil
	}
	m.mu.RUnlock()

	task, err := m.tasks.GetTask(ctx, taskID)
	if err == nil {
		return statusFromTask(task, "analysis_tasks"), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	report, err := m.reports.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	elapsed := report.UpdatedAt.Sub(report.CreatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return &TaskStatusView{
		TaskID:      taskID,
		Status:      models.TaskStatusCompleted,
		Progress:    100,
		Message:     "分析完成（从历史记录恢复）",
		Symbol:      report.Symbol,
		MarketType:  report.MarketType,
		StartTime:   &report.CreatedAt,
		EndTime:     &report.UpdatedAt,
		ElapsedTime: elapsed,
		Source:      "analysis_reports",
	}, nil
}

func statusFromTask(t *models.AnalysisTask, source string) *TaskStatusView {
	start := t.StartedAt
	if start == nil {
		created := t.CreatedAt
		start = &created
	}
	var elapsed float64
	switch {
	case t.CompletedAt != nil:
		elapsed = t.CompletedAt.Sub(*start).Seconds()
	case t.Status == models.TaskStatusPending:
		elapsed = 0
	default:
		elapsed = time.Since(*start).Seconds()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return &TaskStatusView{
		TaskID:      t.TaskID,
		Status:      t.Status,
		Progress:    t.Progress,
		Message:     t.Message,
		CurrentNode: t.CurrentNode,
		Symbol:      t.Symbol,
		MarketType:  t.MarketType,
		LastError:   t.LastError,
		StartTime:   t.StartedAt,
		EndTime:     t.CompletedAt,
		ElapsedTime: elapsed,
		Source:      source,
	}
}

// Task returns the caller's view of one task record, memory first.
func (m *Manager) Task(ctx context.Context, taskID string) (*models.AnalysisTask, error) {
	m.mu.RLock()
	if e, ok := m.table[taskID]; ok {
		view := snapshot(e.task)
		m.mu.RUnlock()
		return view, nil
	}
	m.mu.RUnlock()
	return m.tasks.GetTask(ctx, taskID)
}

// ListUserTasks pages through one user's tasks, newest first.
func (m *Manager) ListUserTasks(ctx context.Context, userID string, filters models.TaskFilters) (*models.TaskListResponse, error) {
	filters.UserID = userID
	return m.tasks.ListTasks(ctx, filters)
}

// ListAllTasks is the admin listing across users.
func (m *Manager) ListAllTasks(ctx context.Context, filters models.TaskFilters) (*models.TaskListResponse, error) {
	return m.tasks.ListTasks(ctx, filters)
}

// History pages through persisted analysis reports with every filter
// pushed down into SQL.
func (m *Manager) History(ctx context.Context, filters models.ReportFilters) (*models.ReportListResponse, error) {
	return m.reports.ListReports(ctx, filters)
}
