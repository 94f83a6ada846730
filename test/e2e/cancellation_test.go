package e2e

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/agent"
	"github.com/quantflow/argus/pkg/config"
)

// TestCancelRunningTask holds the LLM on its first call, cancels the task
// over HTTP, then releases the gate. The graph observes the flag at the
// next node boundary and unwinds cleanly.
func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	llm := NewScriptedLLMClient()
	llm.Override = func(ctx context.Context, in *agent.GenerateInput) []agent.Chunk {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil // fall through to the default reply
	}

	app := NewTestApp(t, WithLLM(llm))

	taskID := app.submitSingle(map[string]any{"stock_symbol": "600519"})

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("analysis never reached the LLM")
	}

	code, env := app.post("/analysis/tasks/"+taskID+"/cancel", nil)
	require.Equal(t, http.StatusOK, code, "detail: %s", env.Detail)
	require.True(t, env.Success)

	close(release)
	app.waitForStatus(taskID, "cancelled", 30*time.Second)
}

// TestCancelQueuedTask fills the single execution slot, then cancels a
// task that is still waiting for it.
func TestCancelQueuedTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	llm := NewScriptedLLMClient()
	llm.Override = func(ctx context.Context, in *agent.GenerateInput) []agent.Chunk {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	app := NewTestApp(t,
		WithLLM(llm),
		WithTasksConfig(func(tc *config.TasksConfig) { tc.MaxConcurrentTasks = 1 }),
	)

	blocker := app.submitSingle(map[string]any{"stock_symbol": "600519"})
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("first task never reached the LLM")
	}
	queued := app.submitSingle(map[string]any{"stock_symbol": "000001"})

	code, env := app.post("/analysis/tasks/"+queued+"/cancel", nil)
	require.Equal(t, http.StatusOK, code, "detail: %s", env.Detail)
	app.waitForStatus(queued, "cancelled", 10*time.Second)

	close(release)
	app.waitForStatus(blocker, "completed", 30*time.Second)
}

func TestCancelCompletedTaskIsRejected(t *testing.T) {
	app := NewTestApp(t)

	taskID := app.submitSingle(map[string]any{"stock_symbol": "600519"})
	app.waitForStatus(taskID, "completed", 30*time.Second)

	code, env := app.post("/analysis/tasks/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}
