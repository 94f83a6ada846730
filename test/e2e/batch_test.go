package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

func TestBatchAnalysis(t *testing.T) {
	app := NewTestApp(t)

	code, env := app.post("/analysis/batch", map[string]any{
		"symbols":       []string{"600519", "000001", " 600519 "}, // dup collapses
		"analysis_date": "2026-03-02",
	})
	require.Equal(t, http.StatusOK, code, "detail: %s", env.Detail)

	var batch struct {
		BatchID string            `json:"batch_id"`
		Tasks   map[string]string `json:"tasks"`
		Count   int               `json:"count"`
	}
	decodeData(t, env, &batch)
	require.NotEmpty(t, batch.BatchID)
	require.Equal(t, 2, batch.Count)
	require.Len(t, batch.Tasks, 2)

	for symbol, taskID := range batch.Tasks {
		app.waitForStatus(taskID, "completed", 30*time.Second)

		status, progress := app.taskStatus(taskID)
		assert.Equal(t, "completed", status, "symbol %s", symbol)
		assert.Equal(t, 100.0, progress)
	}

	// Both tasks carry the batch id in the listing.
	code, env = app.get("/analysis/tasks")
	require.Equal(t, http.StatusOK, code)
	var listing struct {
		Tasks []struct {
			TaskID  string `json:"task_id"`
			BatchID string `json:"batch_id"`
		} `json:"tasks"`
	}
	decodeData(t, env, &listing)
	matched := 0
	for _, task := range listing.Tasks {
		if task.BatchID == batch.BatchID {
			matched++
		}
	}
	assert.Equal(t, 2, matched)
}

func TestBatchSizeCap(t *testing.T) {
	app := NewTestApp(t, WithTasksConfig(func(tc *config.TasksConfig) {
		tc.MaxBatchSize = 2
	}))

	code, env := app.post("/analysis/batch", map[string]any{
		"symbols": []string{"600519", "000001", "000002"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Detail, "批量分析最多支持 2 个股票")
}
