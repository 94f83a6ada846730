package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GroupingStore reads and writes per-market provider priority overrides.
// The orchestrator consults these rows first when resolving adapter order;
// a missing or empty grouping set falls through to env and built-in defaults.
type GroupingStore struct {
	db *sql.DB
}

// NewGroupingStore creates a new GroupingStore
func NewGroupingStore(db *sql.DB) *GroupingStore {
	return &GroupingStore{db: db}
}

// PrioritiesForMarket returns enabled provider priorities for a market
// category, keyed by provider name.
func (s *GroupingStore) PrioritiesForMarket(ctx context.Context, marketCategoryID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_source_name, priority
		FROM datasource_groupings
		WHERE market_category_id = $1 AND enabled`,
		marketCategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groupings: %w", err)
	}
	defer rows.Close()

	priorities := map[string]int{}
	for rows.Next() {
		var (
			name     string
			priority int
		)
		if err := rows.Scan(&name, &priority); err != nil {
			return nil, fmt.Errorf("failed to scan grouping: %w", err)
		}
		priorities[name] = priority
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groupings: %w", err)
	}
	return priorities, nil
}

// UpsertGrouping creates or updates one provider priority row.
func (s *GroupingStore) UpsertGrouping(ctx context.Context, marketCategoryID, providerName string, priority int, enabled bool) error {
	if marketCategoryID == "" {
		return NewValidationError("market_category_id", "required")
	}
	if providerName == "" {
		return NewValidationError("data_source_name", "required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasource_groupings (market_category_id, data_source_name, priority, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_category_id, data_source_name) DO UPDATE SET
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = now()`,
		marketCategoryID, providerName, priority, enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert grouping: %w", err)
	}
	return nil
}
