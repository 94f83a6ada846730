package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL.
// These indexes enable efficient containment queries on report payloads
// and full-text search on report summaries.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	// GIN index for report-map containment queries
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_analysis_reports_reports_gin
		ON analysis_reports USING gin(reports)`)
	if err != nil {
		return fmt.Errorf("failed to create reports GIN index: %w", err)
	}

	// GIN index for summary full-text search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_analysis_reports_summary_gin
		ON analysis_reports USING gin(to_tsvector('simple', COALESCE(summary, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create summary GIN index: %w", err)
	}

	return nil
}
