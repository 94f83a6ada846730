package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/store"
)

// reclamationError marks rows force-failed because their run outlived the
// configured bound without reaching a terminal status.
const reclamationError = "任务长时间无响应，已被系统清理"

// The reclamation threshold is bounded to [1, 72] hours.
const (
	minZombieHours = 1.0
	maxZombieHours = 72.0
)

func clampHours(hours float64) float64 {
	if hours < minZombieHours {
		return minZombieHours
	}
	if hours > maxZombieHours {
		return maxZombieHours
	}
	return hours
}

// ZombieTasks lists non-terminal tasks older than maxRunningHours without
// touching them.
func (m *Manager) ZombieTasks(ctx context.Context, maxRunningHours float64) ([]*models.ZombieTask, error) {
	return m.tasks.FindZombieTasks(ctx, clampHours(maxRunningHours))
}

// CleanupZombieTasks force-fails every zombie and returns how many were
// reclaimed. Zombies resident in this process also have their run
// cancelled so the goroutine unwinds.
func (m *Manager) CleanupZombieTasks(ctx context.Context, maxRunningHours float64) (int, error) {
	hours := clampHours(maxRunningHours)
	zombies, err := m.tasks.FindZombieTasks(ctx, hours)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, z := range zombies {
		if err := m.tasks.SetTerminal(ctx, z.TaskID, models.TaskStatusFailed, nil, reclamationError); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Error("Zombie reclamation write failed", "task_id", z.TaskID, "error", err)
			}
			continue
		}
		count++
		m.reapResident(z.TaskID)
		m.logger.Warn("Zombie task reclaimed",
			"task_id", z.TaskID, "symbol", z.Symbol,
			"status", z.Status, "running_hours", z.RunningHours)
	}
	if count > 0 {
		m.logger.Info("Zombie reclamation pass finished", "reclaimed", count, "max_running_hours", hours)
	}
	return count, nil
}

// reapResident flips the in-memory record of a reclaimed task and cancels
// its run, so the later finish() observes the terminal state and yields.
func (m *Manager) reapResident(taskID string) {
	now := time.Now()
	flipped := false
	progress := 0.0

	m.mu.Lock()
	if e, ok := m.table[taskID]; ok && !e.task.Status.IsTerminal() {
		e.cancelled.Store(true)
		e.cancel()
		e.task.Status = models.TaskStatusFailed
		e.task.LastError = reclamationError
		e.task.Message = "任务已被回收"
		e.task.CompletedAt = &now
		e.task.UpdatedAt = now
		progress = e.task.Progress
		flipped = true
	}
	m.mu.Unlock()

	if flipped {
		m.publishTerminal(taskID, models.TaskStatusFailed, progress, "任务已被回收")
	}
}

// runSweeper reclaims zombies on an interval, starting with an immediate
// pass that catches rows stranded by a previous process.
func (m *Manager) runSweeper(ctx context.Context) {
	defer close(m.sweepDone)

	m.sweepOnce(ctx)

	ticker := time.NewTicker(m.cfg.ZombieSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) {
	if _, err := m.CleanupZombieTasks(ctx, m.cfg.ZombieMaxRunningHours); err != nil {
		m.logger.Error("Zombie sweep failed", "error", err)
	}
}
