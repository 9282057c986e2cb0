package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// RevisionRepository appends item revisions. Revisions are immutable;
// there is no update or delete path.
type RevisionRepository struct {
	db  *sqlx.DB
	log logger.Interface
}

// NewRevisionRepository creates a new revision repository.
func NewRevisionRepository(db *sqlx.DB, log logger.Interface) *RevisionRepository {
	return &RevisionRepository{db: db, log: log}
}

// InsertBatch appends revisions in one statement and fills their ids.
func (r *RevisionRepository) InsertBatch(ctx context.Context, tx *sqlx.Tx, revisions []*domain.Revision) error {
	if len(revisions) == 0 {
		return nil
	}

	const cols = 9
	var b strings.Builder
	b.WriteString(`
		INSERT INTO revisions
			(item_id, rating, comments_num, is_new, is_bestseller,
			 price, sale_price, available_qty, created_at)
		VALUES `)

	args := make([]any, 0, len(revisions)*(cols-1))
	for i, rev := range revisions {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * (cols - 1)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			rev.ItemID, rev.Rating, rev.CommentsNum, rev.IsNew, rev.IsBestseller,
			rev.Price, rev.SalePrice, rev.AvailableQty)
	}
	b.WriteString(" RETURNING id")

	rows, err := tx.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to insert revision batch: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(revisions) {
			break
		}
		if scanErr := rows.Scan(&revisions[i].ID); scanErr != nil {
			return fmt.Errorf("failed to scan inserted revision id: %w", scanErr)
		}
		i++
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate inserted revision ids: %w", rowsErr)
	}
	if i != len(revisions) {
		return fmt.Errorf("inserted %d of %d revisions", i, len(revisions))
	}
	return nil
}

// UpdateLatest repoints items at their freshly appended revision.
func (r *RevisionRepository) UpdateLatest(ctx context.Context, tx *sqlx.Tx, revisions []*domain.Revision) error {
	if len(revisions) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`
		UPDATE items AS i SET
			latest_revision_id = v.revision_id,
			modified_at = NOW()
		FROM (VALUES `)

	args := make([]any, 0, len(revisions)*2)
	for i, rev := range revisions {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d::bigint, $%d::bigint)", i*2+1, i*2+2)
		args = append(args, rev.ItemID, rev.ID)
	}
	b.WriteString(`) AS v(item_id, revision_id)
		WHERE i.id = v.item_id`)

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to update latest revision pointers: %w", err)
	}
	return nil
}

