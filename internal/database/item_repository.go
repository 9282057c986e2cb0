package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// itemSelectColumns lists columns for SELECT queries on items (aliased as t).
const itemSelectColumns = `t.id, t.name, t.mp_id, t.root_id, t.marketplace_id, t.brand_id, t.seller_id,
	t.size_name, t.size_orig_name, t.is_digital, t.is_adult, t.latest_revision_id,
	t.facts_refresh_interval_secs, t.facts_next_due_at, t.facts_lease_started_at,
	t.revisions_refresh_interval_secs, t.revisions_next_due_at, t.revisions_lease_started_at,
	t.deleted, t.created_at, t.modified_at`

// Claim specs for the two independently scheduled item facets.
var (
	itemRevisionsClaimSpec = claimSpec{
		Table:   "items",
		Columns: itemSelectColumns,
		Due:     "revisions_next_due_at",
		Lease:   "revisions_lease_started_at",
		Extra:   "t.marketplace_id = $3",
	}

	itemFactsClaimSpec = claimSpec{
		Table:   "items",
		Columns: itemSelectColumns,
		Due:     "facts_next_due_at",
		Lease:   "facts_lease_started_at",
		Extra:   "t.marketplace_id = $3",
	}
)

// ItemRepository handles database operations for items, their facet
// leases, revisions wiring, and many-to-many attachments.
type ItemRepository struct {
	db  *sqlx.DB
	log logger.Interface
}

// NewItemRepository creates a new item repository.
func NewItemRepository(db *sqlx.DB, log logger.Interface) *ItemRepository {
	return &ItemRepository{db: db, log: log}
}

// claimFacet runs the shared claim transaction for one item facet.
func (r *ItemRepository) claimFacet(
	ctx context.Context,
	spec claimSpec,
	leaseColumn string,
	marketplaceID int64,
	leaseTimeout time.Duration,
	limit int,
) ([]domain.Item, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, infraErr("begin item claim transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var items []domain.Item
	query := buildClaimSelect(spec)
	if selectErr := tx.SelectContext(ctx, &items, query,
		leaseCutoff(leaseTimeout), limit, marketplaceID); selectErr != nil {
		return nil, infraErr("select claimable items", selectErr)
	}

	if len(items) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	if leaseErr := leaseRows(ctx, tx, "items", leaseColumn, ids); leaseErr != nil {
		return nil, infraErr("lease claimed items", leaseErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, infraErr("commit item claim transaction", commitErr)
	}
	return items, nil
}

// ClaimDueRevisions claims items whose revision facet is due.
func (r *ItemRepository) ClaimDueRevisions(
	ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int,
) ([]domain.Item, error) {
	return r.claimFacet(ctx, itemRevisionsClaimSpec, "revisions_lease_started_at",
		marketplaceID, leaseTimeout, limit)
}

// ClaimDueFacts claims items whose item-facts facet is due.
func (r *ItemRepository) ClaimDueFacts(
	ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int,
) ([]domain.Item, error) {
	return r.claimFacet(ctx, itemFactsClaimSpec, "facts_lease_started_at",
		marketplaceID, leaseTimeout, limit)
}

// FindByMPIDs returns all items of the marketplace matching the given
// natural keys, ordered by natural key then internal id. Duplicates (the
// same mp_id twice) indicate an earlier constraint-enforcement bug and
// are surfaced to the reconciler for healing.
func (r *ItemRepository) FindByMPIDs(ctx context.Context, marketplaceID int64, mpIDs []int64) ([]domain.Item, error) {
	query := `
		SELECT ` + itemSelectColumns + `
		FROM items t
		WHERE t.marketplace_id = $1 AND t.mp_id = ANY($2)
		ORDER BY t.mp_id ASC, t.id ASC
	`

	var items []domain.Item
	if err := r.db.SelectContext(ctx, &items, query, marketplaceID, pq.Array(mpIDs)); err != nil {
		return nil, fmt.Errorf("failed to select items by natural keys: %w", err)
	}
	return items, nil
}

// DeleteRows hard-deletes duplicate rows found during reconciliation.
// This is self-healing of a data-integrity violation, not part of the
// normal lifecycle; normal removal is the deleted flag.
func (r *ItemRepository) DeleteRows(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	r.log.Warn("deleting duplicate item rows", "count", len(ids), "ids", ids)

	_, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete duplicate items: %w", err)
	}
	return nil
}

// InsertBatch inserts new items in one statement and fills their ids.
func (r *ItemRepository) InsertBatch(ctx context.Context, tx *sqlx.Tx, items []*domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	const cols = 14
	var b strings.Builder
	b.WriteString(`
		INSERT INTO items
			(name, mp_id, root_id, marketplace_id, brand_id, seller_id,
			 size_name, size_orig_name, is_digital, is_adult,
			 facts_refresh_interval_secs, facts_next_due_at,
			 revisions_refresh_interval_secs, revisions_next_due_at)
		VALUES `)

	args := make([]any, 0, len(items)*cols)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13, base+14)
		args = append(args,
			it.Name, it.MPID, it.RootID, it.MarketplaceID, it.BrandID, it.SellerID,
			it.SizeName, it.SizeOrigName, it.IsDigital, it.IsAdult,
			it.FactsRefreshIntervalSecs, it.FactsNextDueAt,
			it.RevisionsRefreshIntervalSecs, it.RevisionsNextDueAt)
	}
	b.WriteString(" RETURNING id")

	rows, err := tx.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert item batch: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(items) {
			break
		}
		if scanErr := rows.Scan(&items[i].ID); scanErr != nil {
			return fmt.Errorf("failed to scan inserted item id: %w", scanErr)
		}
		i++
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate inserted item ids: %w", rowsErr)
	}
	if i != len(items) {
		return fmt.Errorf("inserted %d of %d items", i, len(items))
	}
	return nil
}

// UpdateFactsBatch updates the mutable item-fact fields of existing rows
// in one statement.
func (r *ItemRepository) UpdateFactsBatch(ctx context.Context, tx *sqlx.Tx, items []*domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	const cols = 9
	var b strings.Builder
	b.WriteString(`
		UPDATE items AS i SET
			name = v.name,
			root_id = v.root_id,
			brand_id = v.brand_id,
			seller_id = v.seller_id,
			size_name = v.size_name,
			size_orig_name = v.size_orig_name,
			is_digital = v.is_digital,
			is_adult = v.is_adult,
			modified_at = NOW()
		FROM (VALUES `)

	args := make([]any, 0, len(items)*cols)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&b,
			"($%d::bigint, $%d::text, $%d::bigint, $%d::bigint, $%d::bigint, $%d::text, $%d::text, $%d::boolean, $%d::boolean)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			it.ID, it.Name, it.RootID, it.BrandID, it.SellerID,
			it.SizeName, it.SizeOrigName, it.IsDigital, it.IsAdult)
	}
	b.WriteString(`) AS v(id, name, root_id, brand_id, seller_id, size_name, size_orig_name, is_digital, is_adult)
		WHERE i.id = v.id`)

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to update item batch: %w", err)
	}
	return nil
}

// attachPairs inserts relation edges idempotently: attaching an existing
// edge is a no-op, never an error.
func (r *ItemRepository) attachPairs(
	ctx context.Context, ext sqlx.ExtContext, table, otherColumn string, pairs [][2]int64,
) error {
	if len(pairs) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (item_id, %s) VALUES ", table, otherColumn)
	args := make([]any, 0, len(pairs)*2)
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, p[0], p[1])
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	if _, err := ext.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to attach %s: %w", table, err)
	}
	return nil
}

// AttachCategories links items to a category. Idempotent.
func (r *ItemRepository) AttachCategories(ctx context.Context, ext sqlx.ExtContext, pairs [][2]int64) error {
	return r.attachPairs(ctx, ext, "item_categories", "category_id", pairs)
}

// AttachImages links items to images. Idempotent.
func (r *ItemRepository) AttachImages(ctx context.Context, ext sqlx.ExtContext, pairs [][2]int64) error {
	return r.attachPairs(ctx, ext, "item_images", "image_id", pairs)
}

// AttachColours links items to colour variants. Idempotent.
func (r *ItemRepository) AttachColours(ctx context.Context, ext sqlx.ExtContext, pairs [][2]int64) error {
	return r.attachPairs(ctx, ext, "item_colours", "colour_id", pairs)
}

// releaseFacet clears a facet lease and schedules the next refresh from
// the row's stored interval, in one statement.
func (r *ItemRepository) releaseFacet(
	ctx context.Context, ext sqlx.ExtContext, leaseColumn, dueColumn, intervalColumn string, ids []int64,
) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE items
		SET %s = NULL,
			%s = NOW() + make_interval(secs => %s),
			modified_at = NOW()
		WHERE id = ANY($1)
	`, leaseColumn, dueColumn, intervalColumn)

	if _, err := ext.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to release item facet lease: %w", err)
	}
	return nil
}

// ReleaseFacts releases the item-facts facet for the given items.
func (r *ItemRepository) ReleaseFacts(ctx context.Context, ext sqlx.ExtContext, ids []int64) error {
	return r.releaseFacet(ctx, ext,
		"facts_lease_started_at", "facts_next_due_at", "facts_refresh_interval_secs", ids)
}

// ReleaseRevisions releases the revision facet for the given items.
func (r *ItemRepository) ReleaseRevisions(ctx context.Context, ext sqlx.ExtContext, ids []int64) error {
	return r.releaseFacet(ctx, ext,
		"revisions_lease_started_at", "revisions_next_due_at", "revisions_refresh_interval_secs", ids)
}

// RequeueRevisions clears the revision lease and retries after delay.
// The failure path: the entity stays reclaimable instead of being lost
// behind a dead lease.
func (r *ItemRepository) RequeueRevisions(ctx context.Context, ids []int64, delay time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE items
		SET revisions_lease_started_at = NULL,
			revisions_next_due_at = NOW() + make_interval(secs => $2),
			modified_at = NOW()
		WHERE id = ANY($1)
	`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), int64(delay.Seconds())); err != nil {
		return fmt.Errorf("failed to requeue item revisions: %w", err)
	}
	return nil
}

// RequeueFacts clears the facts lease and retries after delay.
func (r *ItemRepository) RequeueFacts(ctx context.Context, ids []int64, delay time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE items
		SET facts_lease_started_at = NULL,
			facts_next_due_at = NOW() + make_interval(secs => $2),
			modified_at = NOW()
		WHERE id = ANY($1)
	`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), int64(delay.Seconds())); err != nil {
		return fmt.Errorf("failed to requeue item facts: %w", err)
	}
	return nil
}

// MarkDeleted soft-deletes items the source reports gone.
func (r *ItemRepository) MarkDeleted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE items SET deleted = TRUE, modified_at = NOW() WHERE id = ANY($1)`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to soft-delete items: %w", err)
	}
	return nil
}

// HasFutureRevisionWork reports whether revision-facet work exists with a
// future due time.
func (r *ItemRepository) HasFutureRevisionWork(ctx context.Context, marketplaceID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM items
			WHERE marketplace_id = $1 AND deleted = FALSE AND revisions_next_due_at > NOW()
		)
	`

	if err := r.db.GetContext(ctx, &exists, query, marketplaceID); err != nil {
		return false, fmt.Errorf("failed to check future revision work: %w", err)
	}
	return exists, nil
}

// HasFutureFactsWork reports whether facts-facet work exists with a
// future due time.
func (r *ItemRepository) HasFutureFactsWork(ctx context.Context, marketplaceID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM items
			WHERE marketplace_id = $1 AND deleted = FALSE AND facts_next_due_at > NOW()
		)
	`

	if err := r.db.GetContext(ctx, &exists, query, marketplaceID); err != nil {
		return false, fmt.Errorf("failed to check future facts work: %w", err)
	}
	return exists, nil
}

// InsertPositions records listing-page positions for one crawl pass.
func (r *ItemRepository) InsertPositions(ctx context.Context, positions []domain.ItemPosition) error {
	if len(positions) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO item_positions (item_id, category_id, page, rank, observed_at) VALUES `)
	args := make([]any, 0, len(positions)*4)
	for i, p := range positions {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, NOW())", base+1, base+2, base+3, base+4)
		args = append(args, p.ItemID, p.CategoryID, p.Page, p.Rank)
	}

	if _, err := r.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert item positions: %w", err)
	}
	return nil
}
