package models

import "time"

// TaskStatus is the lifecycle state of an analysis task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// AnalysisParams are the user-supplied knobs for one analysis run.
type AnalysisParams struct {
	Symbol           string   `json:"stock_symbol"`
	MarketType       string   `json:"market_type,omitempty"`   // "A股" (default), "港股", "美股"
	AnalysisDate     string   `json:"analysis_date,omitempty"` // YYYY-MM-DD, defaults to today
	Analysts         []string `json:"analysts,omitempty"`      // analyst slugs; empty = all enabled
	ResearchDepth    int      `json:"research_depth,omitempty"`
	MaxDebateRounds  int      `json:"max_debate_rounds,omitempty"`
	MaxRiskRounds    int      `json:"max_risk_rounds,omitempty"`
	LLMProvider      string   `json:"llm_provider,omitempty"`
	LLMModel         string   `json:"llm_model,omitempty"`
	PreferredSources []string `json:"preferred_sources,omitempty"`
	SyncQuotes       bool     `json:"sync_quotes,omitempty"` // pre-sync daily quotes before inference
}

// AnalysisTask is one tracked analysis run. The in-memory table and the
// analysis_tasks row share this shape.
type AnalysisTask struct {
	TaskID      string         `json:"task_id"`
	UserID      string         `json:"user_id"`
	Symbol      string         `json:"symbol"`
	MarketType  string         `json:"market_type"`
	Status      TaskStatus     `json:"status"`
	Progress    float64        `json:"progress"`
	CurrentNode string         `json:"current_node,omitempty"`
	Message     string         `json:"message,omitempty"`
	Params      AnalysisParams `json:"params"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	BatchID     string         `json:"batch_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TaskFilters contains filtering options for task/history listings.
type TaskFilters struct {
	UserID     string     `json:"user_id,omitempty"`
	Status     TaskStatus `json:"status,omitempty"`
	Symbol     string     `json:"symbol,omitempty"`
	MarketType string     `json:"market_type,omitempty"`
	After      *time.Time `json:"after,omitempty"`
	Before     *time.Time `json:"before,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// TaskListResponse contains a paginated task list.
type TaskListResponse struct {
	Tasks      []*AnalysisTask `json:"tasks"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// BatchSubmitResult maps submitted symbols to their task ids.
type BatchSubmitResult struct {
	BatchID string            `json:"batch_id"`
	Tasks   map[string]string `json:"tasks"` // symbol → task_id
	Count   int               `json:"count"`
}

// ZombieTask describes a stuck non-terminal task found by reclamation.
type ZombieTask struct {
	TaskID       string     `json:"task_id"`
	Symbol       string     `json:"symbol"`
	Status       TaskStatus `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RunningHours float64    `json:"running_hours"`
}
