package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quantflow/argus/pkg/models"
)

// notifyPayloadLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte
// ceiling, with headroom for encoding overhead.
const notifyPayloadLimit = 7900

// Publisher broadcasts task progress through pg_notify on the task's
// channel. Every replica holding a LISTEN on that channel receives the
// payload, so the publishing process and the subscriber's process need not
// be the same one. Events are fire-and-forget; nothing is written to a
// table.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher on the given connection pool.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// PublishProgress broadcasts one progress event on the task's channel.
func (p *Publisher) PublishProgress(ctx context.Context, event *models.ProgressEvent) error {
	payloadJSON, err := json.Marshal(NewProgressPayload(event))
	if err != nil {
		return fmt.Errorf("marshal progress payload: %w", err)
	}

	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)",
		TaskChannel(event.TaskID), notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the payload as-is when it fits the NOTIFY limit,
// otherwise a minimal envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyPayloadLimit {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload extracts the routing fields from an oversized
// payload so the client still learns the task, percent, and status; the
// full detail stays reachable through the status endpoint.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type     string  `json:"type"`
		TaskID   string  `json:"task_id"`
		Progress float64 `json:"progress"`
		Status   string  `json:"status"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"task_id":   routing.TaskID,
		"progress":  routing.Progress,
		"truncated": true,
	}
	if routing.Status != "" {
		truncated["status"] = routing.Status
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
