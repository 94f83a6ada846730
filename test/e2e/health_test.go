package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	app := NewTestApp(t)

	resp, err := http.Get(app.BaseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Database struct {
			Status          string `json:"status"`
			OpenConnections int    `json:"open_connections"`
		} `json:"database"`
		WSConnections int `json:"ws_connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))

	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Version)
	assert.Equal(t, "healthy", health.Database.Status)
	assert.Zero(t, health.WSConnections)
}
