package health

import (
	"context"
	"database/sql"
	"time"
)

// checkTimeout bounds a single dependency probe so a stuck dependency
// cannot hold a readiness request open.
const checkTimeout = 2 * time.Second

// DBChecker probes the Postgres connection backing the audit trail and
// payroll repositories.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database within the probe timeout.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}
