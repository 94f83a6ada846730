package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/config"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	// Must not panic.
	s.NotifyCompleted(context.Background(), Completion{
		TaskID: "task-1",
		Status: "completed",
	})
}

func TestNewService(t *testing.T) {
	t.Run("nil when config nil", func(t *testing.T) {
		assert.Nil(t, NewService(nil))
	})

	t.Run("nil when disabled", func(t *testing.T) {
		svc := NewService(&config.SlackConfig{
			Enabled: false, TokenEnv: "ARGUS_TEST_SLACK_TOKEN", Channel: "C123",
		})
		assert.Nil(t, svc)
	})

	t.Run("nil when channel empty", func(t *testing.T) {
		t.Setenv("ARGUS_TEST_SLACK_TOKEN", "xoxb-test")
		svc := NewService(&config.SlackConfig{
			Enabled: true, TokenEnv: "ARGUS_TEST_SLACK_TOKEN",
		})
		assert.Nil(t, svc)
	})

	t.Run("nil when token env unset", func(t *testing.T) {
		t.Setenv("ARGUS_TEST_SLACK_TOKEN", "")
		svc := NewService(&config.SlackConfig{
			Enabled: true, TokenEnv: "ARGUS_TEST_SLACK_TOKEN", Channel: "C123",
		})
		assert.Nil(t, svc)
	})

	t.Run("service when configured", func(t *testing.T) {
		t.Setenv("ARGUS_TEST_SLACK_TOKEN", "xoxb-test")
		svc := NewService(&config.SlackConfig{
			Enabled: true, TokenEnv: "ARGUS_TEST_SLACK_TOKEN", Channel: "C123",
		})
		assert.NotNil(t, svc)
	})
}

func TestService_NotifyCompleted(t *testing.T) {
	var posted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		posted = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "channel": "C123", "ts": "1724500000.000100"}`))
	}))
	defer server.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/")
	svc := NewServiceWithClient(client)

	svc.NotifyCompleted(context.Background(), Completion{
		TaskID:      "task-1",
		Symbol:      "600519",
		Status:      "completed",
		FinalSignal: "Hold",
		Confidence:  60,
	})
	assert.True(t, posted)
}

func TestService_NotifyCompleted_FailOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/")
	svc := NewServiceWithClient(client)

	// Delivery failure is logged, not returned or panicked.
	svc.NotifyCompleted(context.Background(), Completion{
		TaskID: "task-1",
		Status: "failed",
	})
}
