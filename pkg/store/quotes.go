package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quantflow/argus/pkg/models"
)

// QuoteStore persists the daily-quote write-through cache.
type QuoteStore struct {
	db *sql.DB
}

// NewQuoteStore creates a new QuoteStore
func NewQuoteStore(db *sql.DB) *QuoteStore {
	return &QuoteStore{db: db}
}

// QuoteQuery selects rows from the quote cache.
type QuoteQuery struct {
	Symbol     string
	Period     string // default "daily"
	DataSource string // optional; empty matches any provider
	StartDate  string // inclusive, YYYYMMDD
	EndDate    string // inclusive, YYYYMMDD
	Limit      int    // most recent N bars; default 120
}

// UpsertDailyQuotes writes fetched bars through to the cache, replacing rows
// sharing (symbol, trade_date, data_source, period). Rows missing a key
// field are skipped. Returns the number of rows written.
func (s *QuoteStore) UpsertDailyQuotes(ctx context.Context, quotes []*models.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	for _, q := range quotes {
		if q.Symbol == "" || q.TradeDate == "" || q.DataSource == "" {
			continue
		}
		period := q.Period
		if period == "" {
			period = "daily"
		}
		market := q.Market
		if market == "" {
			market = "CN"
		}
		var payloadJSON any
		if q.Payload != nil {
			b, err := json.Marshal(q.Payload)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal quote payload: %w", err)
			}
			payloadJSON = b
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_daily_quotes
				(symbol, full_symbol, market, trade_date, period, data_source,
				 open, high, low, close, pre_close, volume, amount, pct_chg, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (symbol, trade_date, data_source, period) DO UPDATE SET
				full_symbol = EXCLUDED.full_symbol,
				market = EXCLUDED.market,
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				pre_close = EXCLUDED.pre_close,
				volume = EXCLUDED.volume,
				amount = EXCLUDED.amount,
				pct_chg = EXCLUDED.pct_chg,
				payload = EXCLUDED.payload,
				updated_at = now()`,
			q.Symbol, nullIfEmpty(q.FullSymbol), market, q.TradeDate, period, q.DataSource,
			q.Open, q.High, q.Low, q.Close, q.PreClose, q.Volume, q.Amount, q.PctChg, payloadJSON)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert quote %s/%s: %w", q.Symbol, q.TradeDate, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quote upsert: %w", err)
	}
	return count, nil
}

// DailyQuotes reads cached bars for a symbol, chronological order. When the
// limit binds, the most recent bars are kept.
func (s *QuoteStore) DailyQuotes(ctx context.Context, q QuoteQuery) ([]*models.Quote, error) {
	if q.Symbol == "" {
		return nil, NewValidationError("symbol", "required")
	}
	period := q.Period
	if period == "" {
		period = "daily"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 120
	}

	conds := []string{"symbol = $1", "period = $2"}
	args := []any{q.Symbol, period}
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.DataSource != "" {
		add("data_source = $%d", q.DataSource)
	}
	if q.StartDate != "" {
		add("trade_date >= $%d", q.StartDate)
	}
	if q.EndDate != "" {
		add("trade_date <= $%d", q.EndDate)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT symbol, full_symbol, market, trade_date, period, data_source,
		       open, high, low, close, pre_close, volume, amount, pct_chg, payload, updated_at
		FROM stock_daily_quotes
		WHERE %s
		ORDER BY trade_date DESC
		LIMIT $%d`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	quotes := []*models.Quote{}
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, quote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quotes: %w", err)
	}

	// Fetched newest-first so the limit keeps recent bars; flip to chronological.
	for i, j := 0, len(quotes)-1; i < j; i, j = i+1, j-1 {
		quotes[i], quotes[j] = quotes[j], quotes[i]
	}
	return quotes, nil
}

// LatestTradeDate returns the most recent cached trade date for a symbol,
// or ErrNotFound when the cache has no rows for it.
func (s *QuoteStore) LatestTradeDate(ctx context.Context, symbol string) (string, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(trade_date) FROM stock_daily_quotes WHERE symbol = $1`, symbol).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("failed to read latest trade date: %w", err)
	}
	if !latest.Valid {
		return "", ErrNotFound
	}
	return latest.String, nil
}

// scanQuote reads one stock_daily_quotes row.
func scanQuote(row rowScanner) (*models.Quote, error) {
	var (
		q           models.Quote
		fullSymbol  sql.NullString
		payloadJSON []byte
	)
	err := row.Scan(
		&q.Symbol, &fullSymbol, &q.Market, &q.TradeDate, &q.Period, &q.DataSource,
		&q.Open, &q.High, &q.Low, &q.Close, &q.PreClose, &q.Volume, &q.Amount, &q.PctChg,
		&payloadJSON, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	q.FullSymbol = fullSymbol.String
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &q.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quote payload: %w", err)
		}
	}
	return &q, nil
}
