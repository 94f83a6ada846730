package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantflow/argus/pkg/models"
)

const taskColumns = `task_id, user_id, symbol, market_type, status, progress,
	current_node, message, params, result, last_error, batch_id,
	created_at, started_at, completed_at, updated_at`

// TaskStore persists analysis task records.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a new TaskStore
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask inserts a new pending task row.
func (s *TaskStore) CreateTask(ctx context.Context, task *models.AnalysisTask) error {
	if task.TaskID == "" {
		return NewValidationError("task_id", "required")
	}
	if task.Symbol == "" {
		return NewValidationError("symbol", "required")
	}
	if task.UserID == "" {
		task.UserID = "anonymous"
	}
	if task.MarketType == "" {
		task.MarketType = "A股"
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_tasks
			(task_id, user_id, symbol, market_type, status, progress,
			 current_node, message, params, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		task.TaskID, task.UserID, task.Symbol, task.MarketType, task.Status, task.Progress,
		nullIfEmpty(task.CurrentNode), nullIfEmpty(task.Message), paramsJSON, nullIfEmpty(task.BatchID),
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*models.AnalysisTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM analysis_tasks WHERE task_id = $1`, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks lists tasks with filtering and pagination, newest first.
func (s *TaskStore) ListTasks(ctx context.Context, filters models.TaskFilters) (*models.TaskListResponse, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.UserID != "" {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.Symbol != "" {
		add("symbol = $%d", filters.Symbol)
	}
	if filters.MarketType != "" {
		add("market_type = $%d", filters.MarketType)
	}
	if filters.After != nil {
		add("created_at >= $%d", *filters.After)
	}
	if filters.Before != nil {
		add("created_at < $%d", *filters.Before)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// Count total
	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM analysis_tasks`+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	// Apply pagination
	limit := filters.Limit
	if limit <= 0 {
		limit = 20 // Default
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM analysis_tasks%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.AnalysisTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return &models.TaskListResponse{
		Tasks:      tasks,
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// MarkRunning transitions a pending task to running and stamps started_at.
// A task already past pending is left untouched.
func (s *TaskStore) MarkRunning(ctx context.Context, taskID string) error {
	// Use background context with timeout for critical write
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE analysis_tasks
		SET status = $2, started_at = now(), updated_at = now()
		WHERE task_id = $1 AND status = $3`,
		taskID, models.TaskStatusRunning, models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	return s.checkAffected(writeCtx, res, taskID)
}

// UpdateProgress writes progress fields for a non-terminal task. Writes
// arriving after a terminal status are dropped so the terminal state wins.
func (s *TaskStore) UpdateProgress(ctx context.Context, taskID string, progress float64, currentNode, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_tasks
		SET progress = $2, current_node = $3, message = $4, updated_at = now()
		WHERE task_id = $1 AND status IN ($5, $6)`,
		taskID, progress, nullIfEmpty(currentNode), nullIfEmpty(message),
		models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return s.checkAffected(ctx, res, taskID)
}

// SetTerminal writes a terminal status with its result or error message.
// The first terminal write wins: rows already terminal are left untouched.
func (s *TaskStore) SetTerminal(ctx context.Context, taskID string, status models.TaskStatus, result map[string]any, lastError string) error {
	if !status.IsTerminal() {
		return NewValidationError("status", "must be terminal")
	}

	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = b
	}

	// Use background context with timeout for critical write
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE analysis_tasks
		SET status = $2,
		    result = COALESCE($3::jsonb, result),
		    last_error = $4,
		    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
		    completed_at = now(),
		    updated_at = now()
		WHERE task_id = $1 AND status IN ($5, $6)`,
		taskID, status, resultJSON, nullIfEmpty(lastError),
		models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to set terminal status: %w", err)
	}
	return s.checkAffected(writeCtx, res, taskID)
}

// DeleteTask removes a task row.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindZombieTasks finds non-terminal tasks whose run began more than
// maxRunningHours ago (created_at anchors tasks that never started).
func (s *TaskStore) FindZombieTasks(ctx context.Context, maxRunningHours float64) ([]*models.ZombieTask, error) {
	threshold := time.Now().Add(-time.Duration(maxRunningHours * float64(time.Hour)))

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, symbol, status, started_at, COALESCE(started_at, created_at)
		FROM analysis_tasks
		WHERE status IN ($1, $2) AND COALESCE(started_at, created_at) < $3
		ORDER BY COALESCE(started_at, created_at)`,
		models.TaskStatusPending, models.TaskStatusRunning, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find zombie tasks: %w", err)
	}
	defer rows.Close()

	zombies := []*models.ZombieTask{}
	for rows.Next() {
		var (
			z         models.ZombieTask
			startedAt sql.NullTime
			anchor    time.Time
		)
		if err := rows.Scan(&z.TaskID, &z.Symbol, &z.Status, &startedAt, &anchor); err != nil {
			return nil, fmt.Errorf("failed to scan zombie task: %w", err)
		}
		if startedAt.Valid {
			t := startedAt.Time
			z.StartedAt = &t
		}
		z.RunningHours = time.Since(anchor).Hours()
		zombies = append(zombies, &z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zombie tasks: %w", err)
	}
	return zombies, nil
}

// checkAffected maps a zero-row update to ErrNotFound when the task row is
// missing. A zero-row update on an existing row means the status guard
// rejected the write, which callers treat as a no-op.
func (s *TaskStore) checkAffected(ctx context.Context, res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM analysis_tasks WHERE task_id = $1`, taskID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check task existence: %w", err)
	}
	return nil
}

// scanTask reads one analysis_tasks row in taskColumns order.
func scanTask(row rowScanner) (*models.AnalysisTask, error) {
	var (
		t           models.AnalysisTask
		currentNode sql.NullString
		message     sql.NullString
		paramsJSON  []byte
		resultJSON  []byte
		lastError   sql.NullString
		batchID     sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&t.TaskID, &t.UserID, &t.Symbol, &t.MarketType, &t.Status, &t.Progress,
		&currentNode, &message, &paramsJSON, &resultJSON, &lastError, &batchID,
		&t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.CurrentNode = currentNode.String
	t.Message = message.String
	t.LastError = lastError.String
	t.BatchID = batchID.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &t.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &t.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &t, nil
}
