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

// imageSelectColumns lists columns for SELECT queries on images (aliased
// as t). The binary itself is excluded; claimed workers re-download it
// rather than read it back.
const imageSelectColumns = `t.id, t.mp_url, t.marketplace_id, t.content_type, t.deleted,
	t.refresh_interval_secs, t.next_due_at, t.lease_started_at, t.created_at, t.modified_at`

// imageClaimSpec claims due images regardless of whether content is
// already stored: images refresh on cadence, so a downloaded row comes
// back when its next_due_at passes.
var imageClaimSpec = claimSpec{
	Table:   "images",
	Columns: imageSelectColumns,
	Due:     "next_due_at",
	Lease:   "lease_started_at",
	Extra:   "t.marketplace_id = $3",
}

// ImageRepository handles database operations for product images.
type ImageRepository struct {
	db  *sqlx.DB
	log logger.Interface
}

// NewImageRepository creates a new image repository.
func NewImageRepository(db *sqlx.DB, log logger.Interface) *ImageRepository {
	return &ImageRepository{db: db, log: log}
}

// UpsertBatch registers image URLs discovered on item cards and fills
// ids for both new and existing rows. Existing rows keep their content
// and schedule; the upsert only bumps modified_at.
func (r *ImageRepository) UpsertBatch(ctx context.Context, ext sqlx.ExtContext, images []*domain.Image) error {
	if len(images) == 0 {
		return nil
	}

	const cols = 3
	var b strings.Builder
	b.WriteString(`
		INSERT INTO images (mp_url, marketplace_id, refresh_interval_secs, next_due_at)
		VALUES `)

	args := make([]any, 0, len(images)*cols)
	for i, img := range images {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&b, "($%d, $%d, $%d, NOW())", base+1, base+2, base+3)
		args = append(args, img.MPURL, img.MarketplaceID, img.RefreshIntervalSecs)
	}
	b.WriteString(`
		ON CONFLICT (marketplace_id, mp_url) DO UPDATE SET modified_at = NOW()
		RETURNING id`)

	rows, err := ext.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to upsert image batch: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(images) {
			break
		}
		if scanErr := rows.Scan(&images[i].ID); scanErr != nil {
			return fmt.Errorf("failed to scan upserted image id: %w", scanErr)
		}
		i++
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate upserted image ids: %w", rowsErr)
	}
	if i != len(images) {
		return fmt.Errorf("upserted %d of %d images", i, len(images))
	}
	return nil
}

// ClaimDue claims images due for download.
func (r *ImageRepository) ClaimDue(
	ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int,
) ([]domain.Image, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, infraErr("begin image claim transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var images []domain.Image
	query := buildClaimSelect(imageClaimSpec)
	if selectErr := tx.SelectContext(ctx, &images, query,
		leaseCutoff(leaseTimeout), limit, marketplaceID); selectErr != nil {
		return nil, infraErr("select claimable images", selectErr)
	}

	if len(images) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(images))
	for i := range images {
		ids[i] = images[i].ID
	}
	if leaseErr := leaseRows(ctx, tx, "images", "lease_started_at", ids); leaseErr != nil {
		return nil, infraErr("lease claimed images", leaseErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, infraErr("commit image claim transaction", commitErr)
	}
	return images, nil
}

// StoreContent persists a downloaded image, releases the lease, and
// schedules the next refresh, in one statement.
func (r *ImageRepository) StoreContent(ctx context.Context, id int64, content []byte, contentType string) error {
	query := `
		UPDATE images
		SET content = $2,
			content_type = $3,
			lease_started_at = NULL,
			next_due_at = NOW() + make_interval(secs => refresh_interval_secs),
			modified_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, content, contentType)
	return execRequireRows(result, err, fmt.Errorf("image %d not found", id))
}

// Requeue clears the lease and retries the download after delay.
func (r *ImageRepository) Requeue(ctx context.Context, id int64, delay time.Duration) error {
	query := `
		UPDATE images
		SET lease_started_at = NULL,
			next_due_at = NOW() + make_interval(secs => $2),
			modified_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, int64(delay.Seconds()))
	return execRequireRows(result, err, fmt.Errorf("image %d not found", id))
}

// MarkDeleted soft-deletes images whose source URL is gone for good.
func (r *ImageRepository) MarkDeleted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE images
		SET deleted = TRUE, lease_started_at = NULL, modified_at = NOW()
		WHERE id = ANY($1)
	`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to soft-delete images: %w", err)
	}
	return nil
}

// HasFutureWork reports whether images exist with a future due time.
func (r *ImageRepository) HasFutureWork(ctx context.Context, marketplaceID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM images
			WHERE marketplace_id = $1 AND deleted = FALSE AND next_due_at > NOW()
		)
	`

	if err := r.db.GetContext(ctx, &exists, query, marketplaceID); err != nil {
		return false, fmt.Errorf("failed to check future image work: %w", err)
	}
	return exists, nil
}
