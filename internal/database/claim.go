package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// claimSpec describes one schedulable facet for claim query construction.
// Every schedulable table shares the same shape: a soft-delete flag, a
// due timestamp, and a lease timestamp; specs differ only in table,
// columns, and an optional extra predicate.
type claimSpec struct {
	Table   string
	Columns string
	Due     string
	Lease   string
	// Extra is an additional AND predicate. Its placeholders must start
	// at $3 ($1 is the lease cutoff, $2 the batch size).
	Extra string
}

// buildClaimSelect renders the skip-locked claim SELECT for a spec.
//
// A lease older than the cutoff passed as $1 belongs to a crashed worker
// and is treated as free, so abandoned rows become re-claimable without
// manual intervention. Ordering by the due column bounds starvation:
// oldest-due rows go first, subject to skip-locked contention.
func buildClaimSelect(s claimSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM %s t\n", s.Columns, s.Table)
	fmt.Fprintf(&b, "WHERE t.deleted = FALSE\n")
	fmt.Fprintf(&b, "  AND (t.%s IS NULL OR t.%s < $1)\n", s.Lease, s.Lease)
	fmt.Fprintf(&b, "  AND (t.%s IS NULL OR t.%s <= NOW())\n", s.Due, s.Due)
	if s.Extra != "" {
		fmt.Fprintf(&b, "  AND %s\n", s.Extra)
	}
	fmt.Fprintf(&b, "ORDER BY t.%s ASC NULLS FIRST\n", s.Due)
	b.WriteString("LIMIT $2\n")
	b.WriteString("FOR UPDATE OF t SKIP LOCKED")
	return b.String()
}

// leaseRows marks the selected rows as claimed within the same transaction
// that locked them. Must be committed before the rows are handed to a
// worker.
func leaseRows(ctx context.Context, tx *sqlx.Tx, table, leaseColumn string, ids []int64) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = NOW(), modified_at = NOW() WHERE id = ANY($1)",
		table, leaseColumn,
	)

	res, err := tx.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to lease claimed rows in %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("leased %d of %d claimed rows in %s", n, len(ids), table)
	}
	return nil
}

// leaseCutoff converts a lease timeout into the absolute cutoff passed to
// claim queries.
func leaseCutoff(timeout time.Duration) time.Time {
	return time.Now().Add(-timeout)
}
