// Package events delivers task progress to WebSocket subscribers, using
// PostgreSQL NOTIFY/LISTEN to fan events out across replicas.
//
// Each task has one logical topic. A subscriber connects to the task's
// WebSocket endpoint, receives a connection_established confirmation, and
// from then on every progress event published for that task. Events are
// transient: nothing is persisted and a late subscriber starts from the
// next event. Disconnecting removes the subscription and nothing else —
// in particular it never cancels the task, and a terminal event leaves the
// socket open until the client hangs up.
package events

// Message types delivered to WebSocket subscribers.
const (
	// TypeConnectionEstablished is sent once, immediately after the socket
	// is accepted, confirming which task the subscription is bound to.
	TypeConnectionEstablished = "connection_established"

	// TypeProgress carries one task progress update.
	TypeProgress = "progress"

	// TypeError reports a server-side subscription failure. The connection
	// is closed afterwards; the client should reconnect or fall back to
	// polling the status endpoint.
	TypeError = "error"
)

// TaskChannel returns the NOTIFY channel name for a task's progress events.
// Format: "task:{task_id}".
func TaskChannel(taskID string) string {
	return "task:" + taskID
}
