package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/antevus/labtrail/internal/tracing"
)

// PostgresStore implements Store on the rate_limit_windows table. The
// increment is a single INSERT .. ON CONFLICT DO UPDATE .. RETURNING
// statement, so concurrent callers against the same (key_id, window_start)
// serialize inside Postgres and never observe a torn count.
type PostgresStore struct {
	db *sql.DB
	// retention is how long a window row is kept past its start before
	// Cleanup may remove it. Defaults to twice the default window.
	retention time.Duration
}

// NewPostgresStore creates a Postgres-backed rate limit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, retention: 2 * DefaultWindow}
}

// SetRetention overrides the cleanup retention. Deployments using windows
// longer than the default must raise it to at least twice their longest
// window.
func (s *PostgresStore) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// Increment performs the atomic upsert-and-increment.
func (s *PostgresStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (count int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "rate_limit_windows", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_windows (key_id, window_start, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key_id, window_start)
		DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		RETURNING request_count`,
		key, windowStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return count, nil
}

// Cleanup deletes windows older than the retention. Returns the number of
// rows removed.
func (s *PostgresStore) Cleanup(ctx context.Context, now time.Time) (removed int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "rate_limit_windows", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limit_windows
		WHERE window_start < $1`,
		now.Add(-s.retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limit windows: %w", err)
	}
	return res.RowsAffected()
}
