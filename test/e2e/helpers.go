package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// envelope is the uniform response wrapper of the HTTP API.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// request performs one JSON request against the test server. body may be
// nil; the envelope is decoded from whatever came back.
func (app *TestApp) request(method, path string, body any, headers map[string]string) (int, envelope) {
	app.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(app.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(app.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)

	var env envelope
	require.NoError(app.t, json.Unmarshal(raw, &env), "response body: %s", raw)
	return resp.StatusCode, env
}

func (app *TestApp) get(path string) (int, envelope) {
	return app.request(http.MethodGet, path, nil, nil)
}

func (app *TestApp) post(path string, body any) (int, envelope) {
	return app.request(http.MethodPost, path, body, nil)
}

func (app *TestApp) postAsAdmin(path string, body any) (int, envelope) {
	return app.request(http.MethodPost, path, body, map[string]string{"X-User-ID": adminUserID})
}

// decodeData unmarshals the envelope's data into out.
func decodeData(t *testing.T, env envelope, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, out), "data: %s", env.Data)
}

// submitSingle posts one analysis request and returns the created task ID.
func (app *TestApp) submitSingle(params map[string]any) string {
	app.t.Helper()
	code, env := app.post("/analysis/single", params)
	require.Equal(app.t, http.StatusOK, code, "detail: %s", env.Detail)
	require.True(app.t, env.Success)

	var task struct {
		TaskID string `json:"task_id"`
	}
	decodeData(app.t, env, &task)
	require.NotEmpty(app.t, task.TaskID)
	return task.TaskID
}

// taskStatus fetches the layered status view for a task.
func (app *TestApp) taskStatus(taskID string) (string, float64) {
	app.t.Helper()
	code, env := app.get("/analysis/tasks/" + taskID + "/status")
	require.Equal(app.t, http.StatusOK, code, "detail: %s", env.Detail)

	var view struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
	}
	decodeData(app.t, env, &view)
	return view.Status, view.Progress
}

// waitForStatus polls the status endpoint until the task reaches the
// wanted status or the deadline expires.
func (app *TestApp) waitForStatus(taskID, want string, timeout time.Duration) {
	app.t.Helper()
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		last, _ = app.taskStatus(taskID)
		if last == want {
			return
		}
		if isTerminal(last) && last != want {
			app.t.Fatalf("task %s reached terminal status %q, wanted %q", taskID, last, want)
		}
		time.Sleep(50 * time.Millisecond)
	}
	app.t.Fatalf("task %s did not reach status %q within %s (last %q)", taskID, want, timeout, last)
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
