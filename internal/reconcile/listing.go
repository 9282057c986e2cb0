package reconcile

import (
	"context"
	"fmt"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// ListingPage is everything one category listing page yields after the
// item api round trip.
type ListingPage struct {
	CategoryID int64
	// Page is 1-based; PerPage positions ranks across pages.
	Page    int
	PerPage int

	Summaries []domain.ItemSummary
	Facts     []domain.ItemFact
	Revisions []domain.RevisionFact
}

// ReconcileListing folds one listing page into the store: items are
// upserted (placeholders for ids the item api did not return), images
// registered and attached, the category edge attached, revisions
// appended, and listing positions recorded.
//
// No leases are released here; the caller holds the category lease and
// releases it after the last page.
func (r *Reconciler) ReconcileListing(ctx context.Context, page *ListingPage) error {
	if len(page.Summaries) == 0 {
		return nil
	}

	mpIDs := make([]int64, len(page.Summaries))
	summaryByID := make(map[int64]domain.ItemSummary, len(page.Summaries))
	for i, summary := range page.Summaries {
		mpIDs[i] = summary.MPID
		summaryByID[summary.MPID] = summary
	}
	factByID := make(map[int64]domain.ItemFact, len(page.Facts))
	for _, fact := range page.Facts {
		factByID[fact.MPID] = fact
	}

	itemsByMP, err := r.reconcileItemFacts(ctx, mpIDs, summaryByID, factByID, nil)
	if err != nil {
		return fmt.Errorf("reconcile listing items: %w", err)
	}

	if imageErr := r.reconcileListingImages(ctx, page.Summaries, itemsByMP); imageErr != nil {
		return fmt.Errorf("reconcile listing images: %w", imageErr)
	}

	categoryPairs := make([][2]int64, 0, len(itemsByMP))
	for _, item := range itemsByMP {
		categoryPairs = append(categoryPairs, [2]int64{item.ID, page.CategoryID})
	}
	if attachErr := r.items.AttachItemCategories(ctx, categoryPairs); attachErr != nil {
		return fmt.Errorf("attach listing category: %w", attachErr)
	}

	idByMP := make(map[int64]int64, len(itemsByMP))
	for mpID, item := range itemsByMP {
		idByMP[mpID] = item.ID
	}
	revisions := buildRevisions(idByMP, page.Revisions)
	if revErr := r.items.AppendRevisions(ctx, revisions, nil); revErr != nil {
		return fmt.Errorf("append listing revisions: %w", revErr)
	}
	r.metrics.IncReconciled("revisions", len(revisions))

	positions := make([]domain.ItemPosition, 0, len(page.Summaries))
	for i, summary := range page.Summaries {
		positions = append(positions, domain.ItemPosition{
			ItemID:     itemsByMP[summary.MPID].ID,
			CategoryID: page.CategoryID,
			Page:       page.Page,
			Rank:       (page.Page-1)*page.PerPage + i + 1,
		})
	}
	if posErr := r.items.InsertItemPositions(ctx, positions); posErr != nil {
		return fmt.Errorf("record listing positions: %w", posErr)
	}

	return nil
}

// reconcileListingImages registers discovered image URLs as schedulable
// rows and links them to their items.
func (r *Reconciler) reconcileListingImages(
	ctx context.Context, summaries []domain.ItemSummary, itemsByMP map[int64]*domain.Item,
) error {
	var images []*domain.Image
	imageByURL := make(map[string]*domain.Image)
	for _, summary := range summaries {
		if summary.ImageURL == "" {
			continue
		}
		if _, dup := imageByURL[summary.ImageURL]; dup {
			continue
		}
		image := &domain.Image{
			MPURL:               summary.ImageURL,
			MarketplaceID:       r.marketplaceID,
			RefreshIntervalSecs: int64(r.intervals.Images.Seconds()),
		}
		imageByURL[summary.ImageURL] = image
		images = append(images, image)
	}
	if len(images) == 0 {
		return nil
	}

	if err := r.items.RegisterImages(ctx, images); err != nil {
		return err
	}

	// A shared image attaches to every item carrying its URL.
	var pairs [][2]int64
	for _, summary := range summaries {
		if summary.ImageURL == "" {
			continue
		}
		item := itemsByMP[summary.MPID]
		pairs = append(pairs, [2]int64{item.ID, imageByURL[summary.ImageURL].ID})
	}
	return r.items.AttachItemImages(ctx, pairs)
}
