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

const reportColumns = `id, analysis_id, task_id, user_id, symbol, market_type, status,
	analysis_date, summary, recommendation, reports, decision, key_points,
	created_at, updated_at`

// ReportStore persists hydrated analysis reports.
type ReportStore struct {
	db *sql.DB
}

// NewReportStore creates a new ReportStore
func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

// SaveReport inserts the report for an analysis id, replacing any previous
// report saved under the same id.
func (s *ReportStore) SaveReport(httpCtx context.Context, report *models.AnalysisReport) error {
	// Validate input
	if report.AnalysisID == "" {
		return NewValidationError("analysis_id", "required")
	}
	if report.Symbol == "" {
		return NewValidationError("symbol", "required")
	}
	if report.AnalysisDate == "" {
		return NewValidationError("analysis_date", "required")
	}
	if report.UserID == "" {
		report.UserID = "anonymous"
	}
	if report.MarketType == "" {
		report.MarketType = "A股"
	}
	if report.Status == "" {
		report.Status = "completed"
	}

	reportsJSON := []byte("{}")
	if report.Reports != nil {
		b, err := json.Marshal(report.Reports)
		if err != nil {
			return fmt.Errorf("failed to marshal reports: %w", err)
		}
		reportsJSON = b
	}
	var decisionJSON any
	if report.Decision != nil {
		b, err := json.Marshal(report.Decision)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}
		decisionJSON = b
	}
	var keyPointsJSON any
	if report.KeyPoints != nil {
		b, err := json.Marshal(report.KeyPoints)
		if err != nil {
			return fmt.Errorf("failed to marshal key points: %w", err)
		}
		keyPointsJSON = b
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_reports
			(analysis_id, task_id, user_id, symbol, market_type, status,
			 analysis_date, summary, recommendation, reports, decision, key_points)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (analysis_id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			user_id = EXCLUDED.user_id,
			symbol = EXCLUDED.symbol,
			market_type = EXCLUDED.market_type,
			status = EXCLUDED.status,
			analysis_date = EXCLUDED.analysis_date,
			summary = EXCLUDED.summary,
			recommendation = EXCLUDED.recommendation,
			reports = EXCLUDED.reports,
			decision = EXCLUDED.decision,
			key_points = EXCLUDED.key_points,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		report.AnalysisID, nullIfEmpty(report.TaskID), report.UserID, report.Symbol,
		report.MarketType, report.Status, report.AnalysisDate,
		nullIfEmpty(report.Summary), nullIfEmpty(report.Recommendation),
		reportsJSON, decisionJSON, keyPointsJSON,
	).Scan(&report.ID, &report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	return nil
}

// GetByAnalysisID retrieves a report by its analysis id.
func (s *ReportStore) GetByAnalysisID(ctx context.Context, analysisID string) (*models.AnalysisReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM analysis_reports WHERE analysis_id = $1`, analysisID)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// GetByTaskID retrieves the most recent report saved for a task.
func (s *ReportStore) GetByTaskID(ctx context.Context, taskID string) (*models.AnalysisReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM analysis_reports WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`,
		taskID)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report by task: %w", err)
	}
	return report, nil
}

// ListReports lists reports with filtering and pagination, newest first.
func (s *ReportStore) ListReports(ctx context.Context, filters models.ReportFilters) (*models.ReportListResponse, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	// Apply filters
	if filters.UserID != "" {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Symbol != "" {
		add("symbol = $%d", filters.Symbol)
	}
	if filters.MarketType != "" {
		add("market_type = $%d", filters.MarketType)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.AnalysisDate != "" {
		add("analysis_date = $%d", filters.AnalysisDate)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	// Count total
	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM analysis_reports`+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
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
	query := fmt.Sprintf(`SELECT %s FROM analysis_reports%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		reportColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.AnalysisReport{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return &models.ReportListResponse{
		Reports:    reports,
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// SearchReports performs full-text search over report summaries.
// The tsvector expression must match the GIN index created by the database
// package, otherwise the planner falls back to a sequential scan.
func (s *ReportStore) SearchReports(ctx context.Context, query string, limit int) ([]*models.AnalysisReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM analysis_reports
		WHERE to_tsvector('simple', COALESCE(summary, '')) @@ plainto_tsquery('simple', $1)
		ORDER BY created_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.AnalysisReport{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// scanReport reads one analysis_reports row in reportColumns order.
func scanReport(row rowScanner) (*models.AnalysisReport, error) {
	var (
		r             models.AnalysisReport
		taskID        sql.NullString
		summary       sql.NullString
		recommend     sql.NullString
		reportsJSON   []byte
		decisionJSON  []byte
		keyPointsJSON []byte
	)
	err := row.Scan(
		&r.ID, &r.AnalysisID, &taskID, &r.UserID, &r.Symbol, &r.MarketType, &r.Status,
		&r.AnalysisDate, &summary, &recommend, &reportsJSON, &decisionJSON, &keyPointsJSON,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.TaskID = taskID.String
	r.Summary = summary.String
	r.Recommendation = recommend.String
	if len(reportsJSON) > 0 {
		if err := json.Unmarshal(reportsJSON, &r.Reports); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reports: %w", err)
		}
	}
	if len(decisionJSON) > 0 {
		if err := json.Unmarshal(decisionJSON, &r.Decision); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
		}
	}
	if len(keyPointsJSON) > 0 {
		if err := json.Unmarshal(keyPointsJSON, &r.KeyPoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key points: %w", err)
		}
	}
	return &r, nil
}
