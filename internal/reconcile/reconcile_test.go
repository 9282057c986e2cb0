package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkozyrev/mpcrawl/internal/config"
	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/metrics"
)

type upsertedCategory struct {
	fact     domain.CategoryFact
	parentID *int64
}

type fakeCategoryStore struct {
	nextID   int64
	upserted []upsertedCategory
	seenIDs  []int64
}

func (f *fakeCategoryStore) UpsertCategory(
	_ context.Context, _ int64, fact *domain.CategoryFact, parentID *int64, _ time.Duration,
) (int64, error) {
	f.nextID++
	f.upserted = append(f.upserted, upsertedCategory{fact: *fact, parentID: parentID})
	return f.nextID, nil
}

func (f *fakeCategoryStore) MarkMissingCategories(_ context.Context, _ int64, seenIDs []int64) (int64, error) {
	f.seenIDs = seenIDs
	return 2, nil
}

type fakeItemStore struct {
	nextID   int64
	existing []domain.Item

	deletedRows   []int64
	inserted      []*domain.Item
	updated       []*domain.Item
	factsReleased []int64

	revisions        []*domain.Revision
	revisionsRelease []int64

	images        []*domain.Image
	categoryPairs [][2]int64
	imagePairs    [][2]int64
	colourPairs   [][2]int64
	positions     []domain.ItemPosition
}

func (f *fakeItemStore) FindItemsByMPIDs(_ context.Context, _ int64, mpIDs []int64) ([]domain.Item, error) {
	var found []domain.Item
	for _, item := range f.existing {
		for _, mpID := range mpIDs {
			if item.MPID == mpID {
				found = append(found, item)
			}
		}
	}
	return found, nil
}

func (f *fakeItemStore) DeleteItemRows(_ context.Context, ids []int64) error {
	f.deletedRows = append(f.deletedRows, ids...)
	return nil
}

func (f *fakeItemStore) SaveItemFacts(_ context.Context, toInsert, toUpdate []*domain.Item, releaseIDs []int64) error {
	for _, item := range toInsert {
		f.nextID++
		item.ID = f.nextID
	}
	f.inserted = append(f.inserted, toInsert...)
	f.updated = append(f.updated, toUpdate...)
	f.factsReleased = append(f.factsReleased, releaseIDs...)
	return nil
}

func (f *fakeItemStore) AppendRevisions(_ context.Context, revisions []*domain.Revision, releaseIDs []int64) error {
	for _, rev := range revisions {
		f.nextID++
		rev.ID = f.nextID
	}
	f.revisions = append(f.revisions, revisions...)
	f.revisionsRelease = append(f.revisionsRelease, releaseIDs...)
	return nil
}

func (f *fakeItemStore) RegisterImages(_ context.Context, images []*domain.Image) error {
	for _, image := range images {
		f.nextID++
		image.ID = f.nextID
	}
	f.images = append(f.images, images...)
	return nil
}

func (f *fakeItemStore) AttachItemCategories(_ context.Context, pairs [][2]int64) error {
	f.categoryPairs = append(f.categoryPairs, pairs...)
	return nil
}

func (f *fakeItemStore) AttachItemImages(_ context.Context, pairs [][2]int64) error {
	f.imagePairs = append(f.imagePairs, pairs...)
	return nil
}

func (f *fakeItemStore) AttachItemColours(_ context.Context, pairs [][2]int64) error {
	f.colourPairs = append(f.colourPairs, pairs...)
	return nil
}

func (f *fakeItemStore) InsertItemPositions(_ context.Context, positions []domain.ItemPosition) error {
	f.positions = append(f.positions, positions...)
	return nil
}

type fakeLookupStore struct {
	nextID int64
	calls  int
	rows   map[string]int64
}

func (f *fakeLookupStore) GetOrCreateLookup(_ context.Context, kind domain.LookupKind, lookup *domain.Lookup) (int64, error) {
	f.calls++
	if f.rows == nil {
		f.rows = map[string]int64{}
	}
	key := string(kind) + "/" + lookup.Name
	if id, ok := f.rows[key]; ok {
		return id, nil
	}
	f.nextID++
	f.rows[key] = f.nextID
	return f.nextID, nil
}

func testIntervals() config.IntervalsConfig {
	return config.IntervalsConfig{
		Categories: 7 * 24 * time.Hour,
		ItemFacts:  7 * 24 * time.Hour,
		Revisions:  24 * time.Hour,
		Images:     7 * 24 * time.Hour,
	}
}

func newTestReconciler(t *testing.T, categories *fakeCategoryStore, items *fakeItemStore, lookups *fakeLookupStore) *Reconciler {
	t.Helper()
	r, err := New(1, categories, items, lookups, testIntervals(), metrics.New(), logger.NewNoOp())
	require.NoError(t, err)
	return r
}

func TestSyncCategoryTree(t *testing.T) {
	categories := &fakeCategoryStore{}
	r := newTestReconciler(t, categories, &fakeItemStore{}, &fakeLookupStore{})

	roots := []*domain.CategoryFact{
		{
			Name: "Женщинам", MPURL: "/w", ItemCount: 100,
			Children: []*domain.CategoryFact{
				{Name: "Платья", MPURL: "/w/p", ItemCount: 40},
				{Name: "Блузки", MPURL: "/w/b", ItemCount: 60},
			},
		},
		{Name: "Обувь", MPURL: "/o"},
	}

	synced, err := r.SyncCategoryTree(context.Background(), roots)
	require.NoError(t, err)
	assert.Equal(t, 4, synced)

	require.Len(t, categories.upserted, 4)
	// Breadth-first: both roots land before any child, and children
	// carry their parent's id.
	assert.Nil(t, categories.upserted[0].parentID)
	assert.Nil(t, categories.upserted[1].parentID)
	require.NotNil(t, categories.upserted[2].parentID)
	assert.Equal(t, int64(1), *categories.upserted[2].parentID)
	assert.Equal(t, "Платья", categories.upserted[2].fact.Name)

	// Every synced id is protected from the missing sweep.
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, categories.seenIDs)
}

func TestReconcileClaimedFactsInsertsUpdatesAndReleases(t *testing.T) {
	items := &fakeItemStore{
		nextID: 100,
		existing: []domain.Item{
			{ID: 10, MPID: 111, MarketplaceID: 1, Name: "старое имя"},
		},
	}
	lookups := &fakeLookupStore{}
	r := newTestReconciler(t, &fakeCategoryStore{}, items, lookups)

	claimed := []domain.Item{
		{ID: 10, MPID: 111},
		{ID: 11, MPID: 222},
	}
	facts := []domain.ItemFact{
		{MPID: 111, Name: "новое имя", BrandName: "Acme", BrandMPID: 7,
			Colours: []domain.ColourFact{{Name: "синий", MPID: 3}}},
		// 333 is new: present in the api but never seen before.
		{MPID: 333, Name: "новинка", RootID: 33},
	}

	err := r.ReconcileClaimedFacts(context.Background(), claimed, facts)
	require.NoError(t, err)

	require.Len(t, items.updated, 1)
	assert.Equal(t, "новое имя", items.updated[0].Name)
	assert.True(t, items.updated[0].BrandID.Valid)

	require.Len(t, items.inserted, 1)
	newItem := items.inserted[0]
	assert.Equal(t, int64(333), newItem.MPID)
	assert.Equal(t, int64(33), newItem.RootID.Int64)
	assert.NotZero(t, newItem.ID)
	// New items become due for a revision immediately.
	require.True(t, newItem.RevisionsNextDueAt.Valid)
	assert.WithinDuration(t, time.Now(), newItem.RevisionsNextDueAt.Time, time.Minute)

	// Both claimed leases are released, including 222 which the api
	// did not return.
	assert.ElementsMatch(t, []int64{10, 11}, items.factsReleased)

	require.Len(t, items.colourPairs, 1)
	assert.Equal(t, int64(10), items.colourPairs[0][0])
}

func TestReconcileClaimedFactsHealsDuplicates(t *testing.T) {
	items := &fakeItemStore{
		existing: []domain.Item{
			// FindItemsByMPIDs returns rows ordered by (mp_id, id);
			// the fake preserves declaration order.
			{ID: 10, MPID: 111},
			{ID: 12, MPID: 111},
			{ID: 15, MPID: 111},
		},
	}
	r := newTestReconciler(t, &fakeCategoryStore{}, items, &fakeLookupStore{})

	claimed := []domain.Item{{ID: 10, MPID: 111}}
	err := r.ReconcileClaimedFacts(context.Background(), claimed, []domain.ItemFact{{MPID: 111, Name: "x"}})
	require.NoError(t, err)

	// The first row wins; the rest are deleted.
	assert.ElementsMatch(t, []int64{12, 15}, items.deletedRows)
	require.Len(t, items.updated, 1)
	assert.Equal(t, int64(10), items.updated[0].ID)
}

func TestAppendClaimedRevisions(t *testing.T) {
	items := &fakeItemStore{}
	r := newTestReconciler(t, &fakeCategoryStore{}, items, &fakeLookupStore{})

	claimed := []domain.Item{
		{ID: 10, MPID: 111},
		{ID: 11, MPID: 222},
	}
	facts := []domain.RevisionFact{
		{MPID: 111, Price: 12900, AvailableQty: 5, Rating: 4.2},
		// 999 was never claimed; it is dropped.
		{MPID: 999, Price: 1},
	}

	err := r.AppendClaimedRevisions(context.Background(), claimed, facts)
	require.NoError(t, err)

	require.Len(t, items.revisions, 1)
	assert.Equal(t, int64(10), items.revisions[0].ItemID)
	assert.Equal(t, int64(12900), items.revisions[0].Price)

	// The schedule advances for every claimed item, observed or not.
	assert.ElementsMatch(t, []int64{10, 11}, items.revisionsRelease)
}

func TestReconcileListing(t *testing.T) {
	items := &fakeItemStore{}
	r := newTestReconciler(t, &fakeCategoryStore{}, items, &fakeLookupStore{})

	page := &ListingPage{
		CategoryID: 5,
		Page:       2,
		PerPage:    100,
		Summaries: []domain.ItemSummary{
			{MPID: 111, Name: "Платье летнее", ImageURL: "https://img/111.jpg"},
			{MPID: 222, Name: "Платье вечернее", ImageURL: "https://img/222.jpg"},
		},
		Facts: []domain.ItemFact{
			{MPID: 111, Name: "Платье летнее", BrandName: "Acme"},
			// 222 has no fact and becomes a placeholder.
		},
		Revisions: []domain.RevisionFact{
			{MPID: 111, Price: 12900},
		},
	}

	err := r.ReconcileListing(context.Background(), page)
	require.NoError(t, err)

	require.Len(t, items.inserted, 2)
	byMP := map[int64]*domain.Item{}
	for _, item := range items.inserted {
		byMP[item.MPID] = item
	}

	// The placeholder keeps its facts facet due now; the full item is
	// scheduled one interval out.
	placeholder := byMP[222]
	assert.Equal(t, "Платье вечернее", placeholder.Name)
	assert.WithinDuration(t, time.Now(), placeholder.FactsNextDueAt.Time, time.Minute)
	full := byMP[111]
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), full.FactsNextDueAt.Time, time.Minute)

	// No leases change hands on a listing pass.
	assert.Empty(t, items.factsReleased)
	assert.Empty(t, items.revisionsRelease)

	require.Len(t, items.images, 2)
	assert.Len(t, items.imagePairs, 2)
	assert.ElementsMatch(t, [][2]int64{
		{full.ID, 5}, {placeholder.ID, 5},
	}, items.categoryPairs)

	require.Len(t, items.revisions, 1)
	assert.Equal(t, full.ID, items.revisions[0].ItemID)

	require.Len(t, items.positions, 2)
	assert.Equal(t, 101, items.positions[0].Rank)
	assert.Equal(t, 102, items.positions[1].Rank)
	assert.Equal(t, 2, items.positions[0].Page)
}

func TestLookupResolutionIsCached(t *testing.T) {
	lookups := &fakeLookupStore{}
	r := newTestReconciler(t, &fakeCategoryStore{}, &fakeItemStore{}, lookups)

	for range 3 {
		id, err := r.resolveLookup(context.Background(), domain.LookupBrand, "Acme", 7)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
	}

	assert.Equal(t, 1, lookups.calls)
}

func TestResolveLookupNamedOnly(t *testing.T) {
	lookups := &fakeLookupStore{}
	r := newTestReconciler(t, &fakeCategoryStore{}, &fakeItemStore{}, lookups)

	id, err := r.resolveLookup(context.Background(), domain.LookupSeller, "ООО Ромашка", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	// Different names with no source id are distinct rows.
	id2, err := r.resolveLookup(context.Background(), domain.LookupSeller, "ООО Василёк", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2)
}
