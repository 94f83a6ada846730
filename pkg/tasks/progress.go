package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/store"
)

// NodeCompleted is the graph's progress push. The node name resolves to a
// display label and a percent through the per-task maps; progress never
// moves backwards, pseudo-nodes are skipped, and updates for terminal
// tasks are dropped. Memory and event fan-out are immediate; the durable
// write is debounced to one per flush interval.
func (m *Manager) NodeCompleted(ctx context.Context, taskID, nodeName string) {
	now := time.Now()

	m.mu.Lock()
	e, ok := m.table[taskID]
	if !ok || e.task.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	label, known := "", false
	if e.labels != nil {
		label, known = e.labels[nodeName]
	}
	if known && label == "" {
		// Tool or cleanup pseudo-node.
		m.mu.Unlock()
		return
	}
	if !known {
		label = nodeName
	}

	pct := e.task.Progress
	if p, ok := e.percents[label]; ok && p > pct {
		pct = p
	}

	message := label + " 完成"
	e.task.Progress = pct
	e.task.CurrentNode = label
	e.task.Message = message
	e.task.UpdatedAt = now

	flush := now.Sub(e.lastFlush) >= m.cfg.ProgressFlushInterval
	if flush {
		e.lastFlush = now
	}
	m.mu.Unlock()

	if flush {
		if err := m.tasks.UpdateProgress(ctx, taskID, pct, label, message); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Durable progress write failed", "task_id", taskID, "error", err)
		}
	}

	m.publish(ctx, &models.ProgressEvent{
		TaskID:      taskID,
		Node:        nodeName,
		DisplayName: label,
		Progress:    pct,
		Message:     message,
		Timestamp:   now,
	})
}

func (m *Manager) publish(ctx context.Context, event *models.ProgressEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishProgress(ctx, event); err != nil {
		m.logger.Warn("Progress publish failed", "task_id", event.TaskID, "error", err)
	}
}

// publishTerminal tells subscribers the task reached its final status. The
// background context keeps the event flowing after the run context died.
func (m *Manager) publishTerminal(taskID string, status models.TaskStatus, progress float64, message string) {
	m.publish(context.Background(), &models.ProgressEvent{
		TaskID:    taskID,
		Progress:  progress,
		Message:   message,
		Status:    string(status),
		Timestamp: time.Now(),
	})
}
