package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// Store composes the repositories behind transaction-shaped operations.
// Writes that must land atomically with a lease release share one
// transaction here, so a crash never leaves released leases without
// their data or vice versa.
type Store struct {
	db *sqlx.DB

	Marketplaces *MarketplaceRepository
	Categories   *CategoryRepository
	Items        *ItemRepository
	Revisions    *RevisionRepository
	Images       *ImageRepository
	Lookups      *LookupRepository
	Stats        *StatsRepository
}

// NewStore wires all repositories over one connection pool.
func NewStore(db *sqlx.DB, log logger.Interface) *Store {
	return &Store{
		db:           db,
		Marketplaces: NewMarketplaceRepository(db),
		Categories:   NewCategoryRepository(db),
		Items:        NewItemRepository(db, log),
		Revisions:    NewRevisionRepository(db, log),
		Images:       NewImageRepository(db, log),
		Lookups:      NewLookupRepository(db, log),
		Stats:        NewStatsRepository(db),
	}
}

// SaveItemFacts inserts and updates items and releases their facts
// leases in one transaction.
func (s *Store) SaveItemFacts(ctx context.Context, toInsert, toUpdate []*domain.Item, releaseIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return infraErr("begin item facts transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if insertErr := s.Items.InsertBatch(ctx, tx, toInsert); insertErr != nil {
		return insertErr
	}
	if updateErr := s.Items.UpdateFactsBatch(ctx, tx, toUpdate); updateErr != nil {
		return updateErr
	}
	if releaseErr := s.Items.ReleaseFacts(ctx, tx, releaseIDs); releaseErr != nil {
		return releaseErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return infraErr("commit item facts transaction", commitErr)
	}
	return nil
}

// AppendRevisions appends revisions, repoints latest_revision_id, and
// releases the revision leases of the claimed items in one transaction.
func (s *Store) AppendRevisions(ctx context.Context, revisions []*domain.Revision, releaseIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return infraErr("begin revision transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if insertErr := s.Revisions.InsertBatch(ctx, tx, revisions); insertErr != nil {
		return insertErr
	}
	if latestErr := s.Revisions.UpdateLatest(ctx, tx, revisions); latestErr != nil {
		return latestErr
	}
	if releaseErr := s.Items.ReleaseRevisions(ctx, tx, releaseIDs); releaseErr != nil {
		return releaseErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return infraErr("commit revision transaction", commitErr)
	}
	return nil
}

// RegisterImages upserts discovered image URLs outside any larger
// transaction; image rows are independent schedulable entities.
func (s *Store) RegisterImages(ctx context.Context, images []*domain.Image) error {
	return s.Images.UpsertBatch(ctx, s.db, images)
}

// AttachItemCategories links items to a category.
func (s *Store) AttachItemCategories(ctx context.Context, pairs [][2]int64) error {
	return s.Items.AttachCategories(ctx, s.db, pairs)
}

// AttachItemImages links items to images.
func (s *Store) AttachItemImages(ctx context.Context, pairs [][2]int64) error {
	return s.Items.AttachImages(ctx, s.db, pairs)
}

// AttachItemColours links items to colour variants.
func (s *Store) AttachItemColours(ctx context.Context, pairs [][2]int64) error {
	return s.Items.AttachColours(ctx, s.db, pairs)
}

// FindItemsByMPIDs resolves items by natural key for reconciliation.
func (s *Store) FindItemsByMPIDs(ctx context.Context, marketplaceID int64, mpIDs []int64) ([]domain.Item, error) {
	return s.Items.FindByMPIDs(ctx, marketplaceID, mpIDs)
}

// DeleteItemRows removes duplicate item rows found during reconciliation.
func (s *Store) DeleteItemRows(ctx context.Context, ids []int64) error {
	return s.Items.DeleteRows(ctx, ids)
}

// InsertItemPositions records listing positions for one crawl pass.
func (s *Store) InsertItemPositions(ctx context.Context, positions []domain.ItemPosition) error {
	return s.Items.InsertPositions(ctx, positions)
}

// UpsertCategory creates or updates one category node by natural key.
func (s *Store) UpsertCategory(
	ctx context.Context, marketplaceID int64, fact *domain.CategoryFact,
	parentID *int64, refreshInterval time.Duration,
) (int64, error) {
	return s.Categories.Upsert(ctx, marketplaceID, fact, parentID, refreshInterval)
}

// MarkMissingCategories soft-deletes categories absent from a full sync.
func (s *Store) MarkMissingCategories(ctx context.Context, marketplaceID int64, seenIDs []int64) (int64, error) {
	return s.Categories.MarkMissing(ctx, marketplaceID, seenIDs)
}

// GetOrCreateLookup resolves one lookup row by natural key.
func (s *Store) GetOrCreateLookup(ctx context.Context, kind domain.LookupKind, lookup *domain.Lookup) (int64, error) {
	return s.Lookups.GetOrCreate(ctx, kind, lookup)
}
