package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/graph"
	"github.com/quantflow/argus/pkg/models"
)

func TestManager_NodeProgress(t *testing.T) {
	fx := newManagerFixture(t, nil)
	ctx := context.Background()

	marketNode := fx.records[0].NodeName()
	marketLabel := fx.records[0].DisplayName()
	sentimentNode := fx.records[1].NodeName()
	sentimentLabel := fx.records[1].DisplayName()

	gate := make(chan struct{})
	fx.runner.fn = func(runCtx context.Context, in *graph.RunInput) (*models.AnalysisState, error) {
		in.Progress.NodeCompleted(runCtx, in.TaskID, marketNode)
		in.Progress.NodeCompleted(runCtx, in.TaskID, "tools_market")
		select {
		case <-gate:
		case <-runCtx.Done():
			return nil, runCtx.Err()
		}
		in.Progress.NodeCompleted(runCtx, in.TaskID, sentimentNode)
		in.Progress.NodeCompleted(runCtx, in.TaskID, marketNode) // stale replay
		in.Progress.NodeCompleted(runCtx, in.TaskID, "Mystery Node")
		return happyState(in), nil
	}

	task, err := fx.manager.Submit(ctx, "alice", models.AnalysisParams{Symbol: "600519"})
	require.NoError(t, err)

	// First of two analysts: 10 + 40/2 = 30, flushed durably.
	require.Eventually(t, func() bool {
		row, err := fx.tasks.GetTask(ctx, task.TaskID)
		return err == nil && row.Progress == 30
	}, 5*time.Second, 10*time.Millisecond)

	view, err := fx.manager.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, view.Progress)
	assert.Equal(t, marketLabel, view.CurrentNode)
	assert.Equal(t, marketLabel+" 完成", view.Message)

	row, err := fx.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, marketLabel, row.CurrentNode)

	// The tool pseudo-node published nothing.
	for _, e := range fx.events.all() {
		assert.NotEqual(t, "tools_market", e.Node)
	}

	close(gate)
	view = waitTerminal(t, fx.manager, task.TaskID)
	assert.Equal(t, 100.0, view.Progress)

	events := fx.events.all()

	// Progress never moves backwards: the stale market replay and the
	// unmapped node hold the latest percent.
	var progressions []float64
	for _, e := range events {
		if e.Status == "" {
			progressions = append(progressions, e.Progress)
		}
	}
	assert.Equal(t, []float64{30, 50, 50, 50}, progressions)

	var sentiment, mystery *models.ProgressEvent
	for i := range events {
		switch events[i].Node {
		case sentimentNode:
			sentiment = &events[i]
		case "Mystery Node":
			mystery = &events[i]
		}
	}
	require.NotNil(t, sentiment)
	assert.Equal(t, sentimentLabel, sentiment.DisplayName)
	assert.Equal(t, 50.0, sentiment.Progress)

	require.NotNil(t, mystery)
	assert.Equal(t, "Mystery Node", mystery.DisplayName)
	assert.Equal(t, "Mystery Node 完成", mystery.Message)
	assert.Equal(t, 50.0, mystery.Progress)
}

func TestManager_ProgressDebounce(t *testing.T) {
	fx := newManagerFixture(t, func(tc *config.TasksConfig) {
		tc.ProgressFlushInterval = time.Hour
	})
	ctx := context.Background()

	marketNode := fx.records[0].NodeName()
	sentimentNode := fx.records[1].NodeName()

	gate := make(chan struct{})
	fx.runner.fn = func(runCtx context.Context, in *graph.RunInput) (*models.AnalysisState, error) {
		in.Progress.NodeCompleted(runCtx, in.TaskID, marketNode)
		in.Progress.NodeCompleted(runCtx, in.TaskID, sentimentNode)
		select {
		case <-gate:
		case <-runCtx.Done():
			return nil, runCtx.Err()
		}
		return happyState(in), nil
	}

	task, err := fx.manager.Submit(ctx, "alice", models.AnalysisParams{Symbol: "600519"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := fx.manager.Status(ctx, task.TaskID)
		return err == nil && v.Progress == 50
	}, 5*time.Second, 10*time.Millisecond)

	// Memory and events carry both updates; only the first reached the row.
	row, err := fx.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, row.Progress)

	published := 0
	for _, e := range fx.events.all() {
		if e.Status == "" {
			published++
		}
	}
	assert.Equal(t, 2, published)

	// The terminal write bypasses the debounce.
	close(gate)
	waitTerminal(t, fx.manager, task.TaskID)
	require.Eventually(t, func() bool {
		r, err := fx.tasks.GetTask(ctx, task.TaskID)
		return err == nil && r.Progress == 100
	}, time.Second, 10*time.Millisecond)

	// Updates after the terminal state are dropped silently.
	before := len(fx.events.all())
	fx.manager.NodeCompleted(ctx, task.TaskID, marketNode)
	fx.manager.NodeCompleted(ctx, "no-such-task", marketNode)
	assert.Len(t, fx.events.all(), before)
}
