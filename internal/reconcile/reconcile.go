// Package reconcile folds fetched marketplace facts into the store:
// idempotent upserts by natural key, duplicate healing, lazy lookup
// creation, and lease release in the same write.
package reconcile

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nkozyrev/mpcrawl/internal/config"
	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/metrics"
)

// CategoryStore is the category surface the reconciler writes through.
type CategoryStore interface {
	UpsertCategory(ctx context.Context, marketplaceID int64, fact *domain.CategoryFact,
		parentID *int64, refreshInterval time.Duration) (int64, error)
	MarkMissingCategories(ctx context.Context, marketplaceID int64, seenIDs []int64) (int64, error)
}

// ItemStore is the item surface the reconciler writes through. Save
// operations release the named leases in the same transaction.
type ItemStore interface {
	FindItemsByMPIDs(ctx context.Context, marketplaceID int64, mpIDs []int64) ([]domain.Item, error)
	DeleteItemRows(ctx context.Context, ids []int64) error
	SaveItemFacts(ctx context.Context, toInsert, toUpdate []*domain.Item, releaseIDs []int64) error
	AppendRevisions(ctx context.Context, revisions []*domain.Revision, releaseIDs []int64) error
	RegisterImages(ctx context.Context, images []*domain.Image) error
	AttachItemCategories(ctx context.Context, pairs [][2]int64) error
	AttachItemImages(ctx context.Context, pairs [][2]int64) error
	AttachItemColours(ctx context.Context, pairs [][2]int64) error
	InsertItemPositions(ctx context.Context, positions []domain.ItemPosition) error
}

// LookupStore resolves lookup rows by natural key.
type LookupStore interface {
	GetOrCreateLookup(ctx context.Context, kind domain.LookupKind, lookup *domain.Lookup) (int64, error)
}

// lookupCacheSize bounds the in-process lookup id cache. Wildberries has
// tens of thousands of brands; the hot set is much smaller.
const lookupCacheSize = 16384

type lookupKey struct {
	kind domain.LookupKind
	mpID int64
	name string
}

// Reconciler turns parsed facts into store writes for one marketplace.
type Reconciler struct {
	marketplaceID int64
	categories    CategoryStore
	items         ItemStore
	lookups       LookupStore
	intervals     config.IntervalsConfig
	lookupCache   *lru.Cache[lookupKey, int64]
	metrics       *metrics.Metrics
	log           logger.Interface
}

// New creates a reconciler scoped to one marketplace.
func New(
	marketplaceID int64,
	categories CategoryStore,
	items ItemStore,
	lookups LookupStore,
	intervals config.IntervalsConfig,
	m *metrics.Metrics,
	log logger.Interface,
) (*Reconciler, error) {
	cache, err := lru.New[lookupKey, int64](lookupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		marketplaceID: marketplaceID,
		categories:    categories,
		items:         items,
		lookups:       lookups,
		intervals:     intervals,
		lookupCache:   cache,
		metrics:       m,
		log:           log,
	}, nil
}

// resolveLookup returns the lookup row id for a natural key, consulting
// the cache first. Lookups are created once and their ids never change,
// so cached entries cannot go stale.
func (r *Reconciler) resolveLookup(ctx context.Context, kind domain.LookupKind, name string, mpID int64) (int64, error) {
	key := lookupKey{kind: kind, mpID: mpID, name: name}
	if mpID != 0 {
		// Keyed by id alone; the display name may drift.
		key.name = ""
	}
	if id, ok := r.lookupCache.Get(key); ok {
		return id, nil
	}

	lookup := &domain.Lookup{Name: name, MarketplaceID: r.marketplaceID}
	if mpID != 0 {
		lookup.MPID.Int64 = mpID
		lookup.MPID.Valid = true
	}
	id, err := r.lookups.GetOrCreateLookup(ctx, kind, lookup)
	if err != nil {
		return 0, err
	}
	r.lookupCache.Add(key, id)
	return id, nil
}
