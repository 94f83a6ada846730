package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/graph"
	"github.com/quantflow/argus/pkg/models"
)

func backdate(t *testing.T, fx *managerFixture, taskID string, age time.Duration) {
	t.Helper()
	_, err := fx.db.ExecContext(context.Background(),
		`UPDATE analysis_tasks SET started_at = now() - make_interval(secs => $2) WHERE task_id = $1`,
		taskID, age.Seconds())
	require.NoError(t, err)
}

func TestManager_ZombieReclamation(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	stuck := &models.AnalysisTask{TaskID: uuid.New().String(), Symbol: "000001"}
	require.NoError(t, fx.tasks.CreateTask(ctx, stuck))
	require.NoError(t, fx.tasks.MarkRunning(ctx, stuck.TaskID))
	backdate(t, fx, stuck.TaskID, 3*time.Hour)

	fresh := &models.AnalysisTask{TaskID: uuid.New().String(), Symbol: "600519"}
	require.NoError(t, fx.tasks.CreateTask(ctx, fresh))
	require.NoError(t, fx.tasks.MarkRunning(ctx, fresh.TaskID))

	zombies, err := fx.manager.ZombieTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, zombies, 1)
	assert.Equal(t, stuck.TaskID, zombies[0].TaskID)
	assert.Greater(t, zombies[0].RunningHours, 2.0)

	count, err := fx.manager.CleanupZombieTasks(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	row, err := fx.tasks.GetTask(ctx, stuck.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, row.Status)
	assert.Equal(t, "任务长时间无响应，已被系统清理", row.LastError)

	row, err = fx.tasks.GetTask(ctx, fresh.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, row.Status)

	t.Run("threshold is clamped to the sane band", func(t *testing.T) {
		backdate(t, fx, fresh.TaskID, 90*time.Minute)

		// 0 clamps up to one hour, so the 1.5h task qualifies.
		zombies, err := fx.manager.ZombieTasks(ctx, 0)
		require.NoError(t, err)
		require.Len(t, zombies, 1)
		assert.Equal(t, fresh.TaskID, zombies[0].TaskID)

		// 100 clamps down to 72 hours; nothing is that old.
		zombies, err = fx.manager.ZombieTasks(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, zombies)
	})
}

func TestManager_ZombieReapsResidentRun(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	gate := make(chan struct{})
	defer close(gate)
	fx.runner.fn = func(runCtx context.Context, _ *graph.RunInput) (*models.AnalysisState, error) {
		select {
		case <-gate:
		case <-runCtx.Done():
		}
		return nil, runCtx.Err()
	}

	task, err := fx.manager.Submit(ctx, "alice", models.AnalysisParams{Symbol: "600519"})
	require.NoError(t, err)
	waitRunning(t, fx.manager, task.TaskID)
	backdate(t, fx, task.TaskID, 3*time.Hour)

	count, err := fx.manager.CleanupZombieTasks(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The resident record flipped and the run was cancelled; the unwinding
	// goroutine must not overwrite the reclamation.
	view, err := fx.manager.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, view.Status)
	assert.Equal(t, "任务已被回收", view.Message)
	assert.Equal(t, "任务长时间无响应，已被系统清理", view.LastError)

	term := fx.events.lastTerminal()
	require.NotNil(t, term)
	assert.Equal(t, string(models.TaskStatusFailed), term.Status)

	time.Sleep(50 * time.Millisecond)
	view, err = fx.manager.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, view.Status)
	assert.Equal(t, "任务长时间无响应，已被系统清理", view.LastError)
}

func TestManager_ZombieSweeper(t *testing.T) {
	fx := newManagerFixture(t, func(tc *config.TasksConfig) {
		tc.ZombieSweepInterval = 50 * time.Millisecond
		tc.ZombieMaxRunningHours = 2
	})
	ctx := context.Background()

	stuck := &models.AnalysisTask{TaskID: uuid.New().String(), Symbol: "000001"}
	require.NoError(t, fx.tasks.CreateTask(ctx, stuck))
	require.NoError(t, fx.tasks.MarkRunning(ctx, stuck.TaskID))
	backdate(t, fx, stuck.TaskID, 3*time.Hour)

	fx.manager.Start(ctx)
	fx.manager.Start(ctx) // second call is a no-op

	require.Eventually(t, func() bool {
		row, err := fx.tasks.GetTask(ctx, stuck.TaskID)
		return err == nil && row.Status == models.TaskStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	row, err := fx.tasks.GetTask(ctx, stuck.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "任务长时间无响应，已被系统清理", row.LastError)
}
