package events

import (
	"time"

	"github.com/quantflow/argus/pkg/models"
)

// EstablishedPayload confirms a new subscription. Sent once per connection,
// before any progress event.
type EstablishedPayload struct {
	Type    string `json:"type"` // always TypeConnectionEstablished
	TaskID  string `json:"task_id"`
	Message string `json:"message,omitempty"`
}

// ProgressPayload is the wire form of one progress update.
type ProgressPayload struct {
	Type        string  `json:"type"` // always TypeProgress
	TaskID      string  `json:"task_id"`
	Node        string  `json:"node,omitempty"`         // internal node name
	DisplayName string  `json:"display_name,omitempty"` // human-readable label
	Progress    float64 `json:"progress"`               // 0..100
	Message     string  `json:"message,omitempty"`
	Status      string  `json:"status,omitempty"` // set on terminal transitions
	Timestamp   string  `json:"timestamp"`        // RFC3339Nano
}

// NewProgressPayload converts a progress event into its wire form.
func NewProgressPayload(event *models.ProgressEvent) ProgressPayload {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ProgressPayload{
		Type:        TypeProgress,
		TaskID:      event.TaskID,
		Node:        event.Node,
		DisplayName: event.DisplayName,
		Progress:    event.Progress,
		Message:     event.Message,
		Status:      event.Status,
		Timestamp:   ts.Format(time.RFC3339Nano),
	}
}
