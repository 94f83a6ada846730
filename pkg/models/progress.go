package models

import "time"

// ProgressEvent is one transient progress update for a task. Events are
// fan-out only; late subscribers start from the next event.
type ProgressEvent struct {
	TaskID      string    `json:"task_id"`
	Node        string    `json:"node"`
	DisplayName string    `json:"display_name"`
	Progress    float64   `json:"progress"` // 0..100, monotonic non-decreasing per task
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status,omitempty"` // set on terminal transitions
	Timestamp   time.Time `json:"ts"`
}
