package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// MarketplaceRepository handles the marketplaces table.
type MarketplaceRepository struct {
	db *sqlx.DB
}

// NewMarketplaceRepository creates a new marketplace repository.
func NewMarketplaceRepository(db *sqlx.DB) *MarketplaceRepository {
	return &MarketplaceRepository{db: db}
}

// GetOrCreate resolves a marketplace by name, creating it on first use.
func (r *MarketplaceRepository) GetOrCreate(ctx context.Context, name string) (*domain.Marketplace, error) {
	query := `
		INSERT INTO marketplaces (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET modified_at = NOW()
		RETURNING id, name, created_at, modified_at
	`

	var mp domain.Marketplace
	if err := r.db.GetContext(ctx, &mp, query, name); err != nil {
		return nil, fmt.Errorf("failed to get or create marketplace %q: %w", name, err)
	}
	return &mp, nil
}
