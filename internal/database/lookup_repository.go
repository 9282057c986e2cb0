package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// LookupRepository lazily creates rows in the lookup tables (brands,
// colours, sellers). Lookups have no schedule of their own; they exist
// only as reconciliation targets for item facts.
type LookupRepository struct {
	db  *sqlx.DB
	log logger.Interface
}

// NewLookupRepository creates a new lookup repository.
func NewLookupRepository(db *sqlx.DB, log logger.Interface) *LookupRepository {
	return &LookupRepository{db: db, log: log}
}

// GetOrCreate resolves a lookup row by natural key, creating it on first
// sighting. When the source exposes a numeric id the key is
// (marketplace, mp_id) and the display name is refreshed on change;
// otherwise the key is (marketplace, name).
//
// Rows sharing a natural key are a data-integrity violation from before
// the unique constraints existed; the first row wins and the rest are
// deleted with a warning.
func (r *LookupRepository) GetOrCreate(ctx context.Context, kind domain.LookupKind, lookup *domain.Lookup) (int64, error) {
	found, err := r.findByKey(ctx, kind, lookup)
	if err != nil {
		return 0, err
	}

	switch {
	case len(found) == 0:
		return r.insert(ctx, kind, lookup)
	case len(found) > 1:
		if healErr := r.healDuplicates(ctx, kind, found); healErr != nil {
			return 0, healErr
		}
	}

	keeper := found[0]
	if lookup.MPID.Valid && keeper.Name != lookup.Name {
		if renameErr := r.rename(ctx, kind, keeper.ID, lookup.Name); renameErr != nil {
			return 0, renameErr
		}
	}
	return keeper.ID, nil
}

func (r *LookupRepository) findByKey(ctx context.Context, kind domain.LookupKind, lookup *domain.Lookup) ([]domain.Lookup, error) {
	var (
		query string
		arg   any
	)
	if lookup.MPID.Valid {
		query = fmt.Sprintf(`
			SELECT id, name, marketplace_id, mp_id, created_at, modified_at
			FROM %s
			WHERE marketplace_id = $1 AND mp_id = $2
			ORDER BY id ASC
		`, kind.Table())
		arg = lookup.MPID.Int64
	} else {
		query = fmt.Sprintf(`
			SELECT id, name, marketplace_id, mp_id, created_at, modified_at
			FROM %s
			WHERE marketplace_id = $1 AND mp_id IS NULL AND name = $2
			ORDER BY id ASC
		`, kind.Table())
		arg = lookup.Name
	}

	var found []domain.Lookup
	if err := r.db.SelectContext(ctx, &found, query, lookup.MarketplaceID, arg); err != nil {
		return nil, fmt.Errorf("failed to select %s by natural key: %w", kind, err)
	}
	return found, nil
}

func (r *LookupRepository) insert(ctx context.Context, kind domain.LookupKind, lookup *domain.Lookup) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, marketplace_id, mp_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, kind.Table())

	var id int64
	err := r.db.GetContext(ctx, &id, query, lookup.Name, lookup.MarketplaceID, lookup.MPID)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("failed to insert %s: %w", kind, err)
	}

	// Lost an insert race to a concurrent worker; the row exists now.
	found, findErr := r.findByKey(ctx, kind, lookup)
	if findErr != nil {
		return 0, findErr
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("%s insert conflicted but no row found for marketplace %d",
			kind, lookup.MarketplaceID)
	}
	return found[0].ID, nil
}

func (r *LookupRepository) healDuplicates(ctx context.Context, kind domain.LookupKind, found []domain.Lookup) error {
	extra := make([]int64, 0, len(found)-1)
	for _, dup := range found[1:] {
		extra = append(extra, dup.ID)
	}
	r.log.Warn("deleting duplicate lookup rows",
		"kind", string(kind), "kept", found[0].ID, "deleted", extra)

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, kind.Table())
	if _, err := r.db.ExecContext(ctx, query, pq.Array(extra)); err != nil {
		return fmt.Errorf("failed to delete duplicate %s rows: %w", kind, err)
	}
	return nil
}

func (r *LookupRepository) rename(ctx context.Context, kind domain.LookupKind, id int64, name string) error {
	query := fmt.Sprintf(`UPDATE %s SET name = $2, modified_at = NOW() WHERE id = $1`, kind.Table())

	result, err := r.db.ExecContext(ctx, query, id, name)
	return execRequireRows(result, err, fmt.Errorf("%s %d not found", kind, id))
}
