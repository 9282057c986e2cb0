package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/engine"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/marketplace"
	"github.com/nkozyrev/mpcrawl/internal/metrics"
	"github.com/nkozyrev/mpcrawl/internal/reconcile"
)

// CategoryStore is the listing processor's claim surface.
type CategoryStore interface {
	ClaimDueLeaves(ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int) ([]domain.Category, error)
	Release(ctx context.Context, id int64) error
	Requeue(ctx context.Context, id int64, delay time.Duration) error
	HasFutureWork(ctx context.Context, marketplaceID int64) (bool, error)
	SetItemCount(ctx context.Context, id int64, count int) error
}

// ListingReconciler folds one listing page into the store.
type ListingReconciler interface {
	ReconcileListing(ctx context.Context, page *reconcile.ListingPage) error
}

// ListingProcessor walks one claimed leaf category per cycle: every
// listing page in order, item api per page, reconcile per page. The
// category lease is held across all pages and released once, so a crash
// mid-category leaves it reclaimable after the lease timeout.
type ListingProcessor struct {
	store   CategoryStore
	adapter marketplace.Adapter
	rec     ListingReconciler
	opts    Options
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewListingProcessor creates a listing processor.
func NewListingProcessor(
	store CategoryStore,
	adapter marketplace.Adapter,
	rec ListingReconciler,
	opts Options,
	m *metrics.Metrics,
	log logger.Interface,
) *ListingProcessor {
	return &ListingProcessor{store: store, adapter: adapter, rec: rec, opts: opts, metrics: m, log: log}
}

func (p *ListingProcessor) Name() string { return "listings" }

// ProcessNext claims and crawls one leaf category.
func (p *ListingProcessor) ProcessNext(ctx context.Context) (engine.Outcome, error) {
	started := time.Now()

	cats, err := p.store.ClaimDueLeaves(ctx, p.opts.MarketplaceID, p.opts.LeaseTimeout, 1)
	if err != nil {
		return 0, err
	}
	if len(cats) == 0 {
		p.metrics.IncEmptyClaim("categories")
		return classifyEmpty(p.store.HasFutureWork(ctx, p.opts.MarketplaceID))
	}
	p.metrics.IncClaims("categories", len(cats))

	cat := cats[0]
	if crawlErr := p.crawlCategory(ctx, &cat); crawlErr != nil {
		if isFatal(crawlErr) {
			return 0, crawlErr
		}
		p.metrics.IncFetchError("listing")
		p.log.Warn("category crawl failed, requeueing",
			"category", cat.Name, "id", cat.ID, "error", crawlErr)
		if requeueErr := p.store.Requeue(ctx, cat.ID, p.opts.RetryDelay); requeueErr != nil {
			return 0, requeueErr
		}
		return engine.OutcomeProcessed, nil
	}

	if releaseErr := p.store.Release(ctx, cat.ID); releaseErr != nil {
		return 0, releaseErr
	}

	p.metrics.ObserveCycle("categories", time.Since(started))
	p.log.Info("category crawled",
		"category", cat.Name, "id", cat.ID, "elapsed", time.Since(started).String())
	return engine.OutcomeProcessed, nil
}

// crawlCategory pages through the listing until the marketplace reports
// the end (gone page or empty listing).
func (p *ListingProcessor) crawlCategory(ctx context.Context, cat *domain.Category) error {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		listing, err := p.adapter.ListingPage(ctx, cat.MPURL, page)
		if err != nil {
			if errors.Is(err, fetch.ErrGone) {
				// Past the last page.
				return nil
			}
			return fmt.Errorf("listing page %d of %q: %w", page, cat.Name, err)
		}
		if len(listing.Items) == 0 {
			if page == 1 {
				if countErr := p.store.SetItemCount(ctx, cat.ID, 0); countErr != nil {
					return countErr
				}
			}
			return nil
		}

		if listing.TotalItems > 0 && page == 1 {
			if countErr := p.store.SetItemCount(ctx, cat.ID, listing.TotalItems); countErr != nil {
				return countErr
			}
		}

		mpIDs := make([]int64, len(listing.Items))
		for i, summary := range listing.Items {
			mpIDs[i] = summary.MPID
		}
		facts, revisions, detailsErr := p.adapter.ItemDetails(ctx, mpIDs)
		if detailsErr != nil {
			return fmt.Errorf("item details for page %d of %q: %w", page, cat.Name, detailsErr)
		}

		reconcilePage := &reconcile.ListingPage{
			CategoryID: cat.ID,
			Page:       page,
			PerPage:    p.opts.PerPage,
			Summaries:  listing.Items,
			Facts:      facts,
			Revisions:  revisions,
		}
		if reconcileErr := p.rec.ReconcileListing(ctx, reconcilePage); reconcileErr != nil {
			return reconcileErr
		}

		p.log.Debug("listing page reconciled",
			"category", cat.Name, "page", page, "items", len(listing.Items))
	}
}
