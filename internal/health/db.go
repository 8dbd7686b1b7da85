package health

import (
	"context"
	"database/sql"
)

// DBChecker reports whether the Postgres instance backing the audit chain
// and the rate-limit windows is reachable. A failing check turns /ready
// into a 503 so traffic is routed away before appends start failing.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a checker over an open connection pool.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
