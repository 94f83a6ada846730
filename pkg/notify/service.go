package notify

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/quantflow/argus/pkg/config"
)

// Completion carries the terminal-status fields posted to the channel.
type Completion struct {
	TaskID       string
	Symbol       string
	CompanyName  string
	Status       string // completed / failed / cancelled
	FinalSignal  string // Buy / Sell / Hold
	Confidence   int    // 0..100
	Summary      string
	ErrorMessage string
}

// Service delivers completion notifications.
// Nil-safe: all methods are no-ops on a nil receiver.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService builds the notification service from config, reading the
// bot token from the environment variable the config names. Returns nil
// when notifications are disabled or not fully configured.
func NewService(cfg *config.SlackConfig) *Service {
	if cfg == nil || !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		slog.Warn("Slack notifications enabled but bot token is not set",
			"token_env", cfg.TokenEnv)
		return nil
	}
	return NewServiceWithClient(NewClient(token, cfg.Channel))
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "notify"),
	}
}

// NotifyCompleted posts a terminal status summary.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyCompleted(ctx context.Context, in Completion) {
	if s == nil {
		return
	}

	blocks := BuildCompletionMessage(in)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send completion notification",
			"task_id", in.TaskID,
			"status", in.Status,
			"error", err)
		return
	}
	s.logger.Debug("Completion notification sent",
		"task_id", in.TaskID, "status", in.Status)
}
