// Package store contains the hand-written SQL persistence layer: analysis
// tasks, hydrated reports, the daily-quote write-through cache and the
// provider priority groupings.
//
// Stores operate on the *sql.DB from database.Client.DB(). Critical
// lifecycle writes run on a background context with a short timeout so an
// aborted HTTP request cannot cancel them mid-flight.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
