package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// categorySelectColumns lists columns for SELECT queries on categories (aliased as t).
const categorySelectColumns = `t.id, t.name, t.parent_id, t.marketplace_id, t.mp_id, t.mp_url,
	t.items_in_category, t.deleted, t.refresh_interval_secs, t.next_due_at, t.lease_started_at,
	t.created_at, t.modified_at`

// categoryClaimSpec claims due leaf categories. Non-leaf nodes are never
// claimable: item listings exist only at leaf granularity. The leaf check
// is a NOT EXISTS subquery because the row lock cannot be taken through an
// outer join on the tree relation.
var categoryClaimSpec = claimSpec{
	Table:   "categories",
	Columns: categorySelectColumns,
	Due:     "next_due_at",
	Lease:   "lease_started_at",
	Extra: `t.marketplace_id = $3
  AND NOT EXISTS (SELECT 1 FROM categories c WHERE c.parent_id = t.id AND c.deleted = FALSE)`,
}

// CategoryRepository handles database operations for the category tree.
type CategoryRepository struct {
	db *sqlx.DB
}

// NewCategoryRepository creates a new category repository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// ClaimDueLeaves atomically selects up to limit due, unleased leaf
// categories, marks them leased, and returns them. Rows locked by a
// concurrent claimer are skipped, so concurrent claimers never block each
// other nor double-claim. Returns an empty slice when nothing is due.
func (r *CategoryRepository) ClaimDueLeaves(
	ctx context.Context,
	marketplaceID int64,
	leaseTimeout time.Duration,
	limit int,
) ([]domain.Category, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, infraErr("begin category claim transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var cats []domain.Category
	query := buildClaimSelect(categoryClaimSpec)
	if selectErr := tx.SelectContext(ctx, &cats, query,
		leaseCutoff(leaseTimeout), limit, marketplaceID); selectErr != nil {
		return nil, infraErr("select claimable categories", selectErr)
	}

	if len(cats) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(cats))
	for i := range cats {
		ids[i] = cats[i].ID
	}
	if leaseErr := leaseRows(ctx, tx, "categories", "lease_started_at", ids); leaseErr != nil {
		return nil, infraErr("lease claimed categories", leaseErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, infraErr("commit category claim transaction", commitErr)
	}

	now := time.Now()
	for i := range cats {
		cats[i].LeaseStartedAt.Time = now
		cats[i].LeaseStartedAt.Valid = true
	}
	return cats, nil
}

// Release clears the lease and schedules the next refresh from the row's
// own stored interval. Performed as one statement so a successful crawl
// can never leave the lease held.
func (r *CategoryRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE categories
		SET lease_started_at = NULL,
			next_due_at = NOW() + make_interval(secs => refresh_interval_secs),
			modified_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("category not found: %d", id))
}

// Requeue clears the lease and pushes the next attempt out by delay.
// Used when a crawl of the category failed and should be retried later
// rather than hot-looped.
func (r *CategoryRepository) Requeue(ctx context.Context, id int64, delay time.Duration) error {
	query := `
		UPDATE categories
		SET lease_started_at = NULL,
			next_due_at = NOW() + make_interval(secs => $2),
			modified_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, int64(delay.Seconds()))
	return execRequireRows(result, err, fmt.Errorf("category not found: %d", id))
}

// HasFutureWork reports whether undeleted categories exist whose next due
// time is in the future. Lets idle workers distinguish "not due yet" from
// "nothing left at all".
func (r *CategoryRepository) HasFutureWork(ctx context.Context, marketplaceID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM categories
			WHERE marketplace_id = $1 AND deleted = FALSE AND next_due_at > NOW()
		)
	`

	if err := r.db.GetContext(ctx, &exists, query, marketplaceID); err != nil {
		return false, fmt.Errorf("failed to check future category work: %w", err)
	}
	return exists, nil
}

// Upsert creates or updates a category by its natural key
// (marketplace-scoped URL) and returns its id. New rows become due
// immediately; existing rows keep their schedule.
func (r *CategoryRepository) Upsert(
	ctx context.Context,
	marketplaceID int64,
	fact *domain.CategoryFact,
	parentID *int64,
	refreshInterval time.Duration,
) (int64, error) {
	query := `
		INSERT INTO categories
			(name, parent_id, marketplace_id, mp_id, mp_url, items_in_category,
			 refresh_interval_secs, next_due_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, NOW())
		ON CONFLICT (marketplace_id, mp_url) DO UPDATE SET
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			mp_id = COALESCE(EXCLUDED.mp_id, categories.mp_id),
			items_in_category = EXCLUDED.items_in_category,
			deleted = FALSE,
			modified_at = NOW()
		RETURNING id
	`

	var id int64
	err := r.db.GetContext(ctx, &id, query,
		fact.Name, parentID, marketplaceID, fact.MPID, fact.MPURL,
		fact.ItemCount, int64(refreshInterval.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert category %q: %w", fact.Name, err)
	}
	return id, nil
}

// MarkMissing soft-deletes every category of the marketplace absent from
// seenIDs. Called after a full tree sync; rows are never hard-deleted.
func (r *CategoryRepository) MarkMissing(ctx context.Context, marketplaceID int64, seenIDs []int64) (int64, error) {
	query := `
		UPDATE categories
		SET deleted = TRUE, modified_at = NOW()
		WHERE marketplace_id = $1 AND deleted = FALSE AND NOT (id = ANY($2))
	`

	result, err := r.db.ExecContext(ctx, query, marketplaceID, pq.Array(seenIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to mark missing categories: %w", err)
	}
	return result.RowsAffected()
}

// SetItemCount records the item count the marketplace reports for a
// category listing.
func (r *CategoryRepository) SetItemCount(ctx context.Context, id int64, count int) error {
	query := `UPDATE categories SET items_in_category = $2, modified_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, count)
	return execRequireRows(result, err, fmt.Errorf("category not found: %d", id))
}
