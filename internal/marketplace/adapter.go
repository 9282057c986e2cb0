// Package marketplace defines the capability boundary between the crawl
// engine and a concrete marketplace. Adapters fetch and parse; they never
// touch the store.
package marketplace

import (
	"context"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
)

// Listing is one parsed category listing page.
type Listing struct {
	Items []domain.ItemSummary
	// TotalItems is the category-wide item count shown on the page,
	// zero when the page does not carry one.
	TotalItems int
}

// Fetcher is the transport an adapter pulls pages through.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind fetch.Kind) (*fetch.Result, error)
}

// Adapter exposes one marketplace to the crawler.
//
// ListingPage returns fetch.ErrGone past the last page; callers treat it
// as end of pagination, not failure. ItemDetails may return fewer facts
// than requested ids: the missing ids get placeholder items.
type Adapter interface {
	Name() string
	Categories(ctx context.Context) ([]*domain.CategoryFact, error)
	ListingPage(ctx context.Context, categoryURL string, page int) (*Listing, error)
	ItemDetails(ctx context.Context, mpIDs []int64) ([]domain.ItemFact, []domain.RevisionFact, error)
	ImageData(ctx context.Context, url string) ([]byte, string, error)
}
