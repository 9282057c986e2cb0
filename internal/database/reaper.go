package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// leaseFacet names one schedulable lease column for the reaper.
type leaseFacet struct {
	Table string
	Lease string
}

// All schedulable facets. Items carry two independent leases.
var leaseFacets = []leaseFacet{
	{Table: "categories", Lease: "lease_started_at"},
	{Table: "items", Lease: "facts_lease_started_at"},
	{Table: "items", Lease: "revisions_lease_started_at"},
	{Table: "images", Lease: "lease_started_at"},
}

// LeaseReaper clears leases held past the timeout. The claim queries
// already treat stale leases as free, so the reaper is housekeeping: it
// keeps lease columns honest for operators and stats rather than being
// required for progress.
type LeaseReaper struct {
	db      *sqlx.DB
	log     logger.Interface
	timeout time.Duration
}

// NewLeaseReaper creates a reaper with the given lease timeout.
func NewLeaseReaper(db *sqlx.DB, log logger.Interface, timeout time.Duration) *LeaseReaper {
	return &LeaseReaper{db: db, log: log, timeout: timeout}
}

// ReapStale clears stale leases on every facet and returns the total
// number of rows released.
func (r *LeaseReaper) ReapStale(ctx context.Context) (int64, error) {
	var total int64
	cutoff := leaseCutoff(r.timeout)

	for _, f := range leaseFacets {
		query := fmt.Sprintf(
			"UPDATE %s SET %s = NULL, modified_at = NOW() WHERE %s IS NOT NULL AND %s < $1",
			f.Table, f.Lease, f.Lease, f.Lease,
		)

		res, err := r.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to reap %s.%s leases: %w", f.Table, f.Lease, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		if n > 0 {
			r.log.Warn("released stale leases",
				"table", f.Table, "lease", f.Lease, "count", n, "timeout", r.timeout.String())
		}
		total += n
	}
	return total, nil
}

// Run adapts ReapStale to a cron job func. Errors are logged, not
// propagated; a failed sweep retries on the next tick.
func (r *LeaseReaper) Run(ctx context.Context) func() {
	return func() {
		if _, err := r.ReapStale(ctx); err != nil {
			r.log.Error("lease reap failed", "error", err)
		}
	}
}
