package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// resolveExisting fetches items by natural key and heals duplicate rows:
// the row with the smallest id wins, the rest are deleted with a warning.
func (r *Reconciler) resolveExisting(ctx context.Context, mpIDs []int64) (map[int64]*domain.Item, error) {
	if len(mpIDs) == 0 {
		return map[int64]*domain.Item{}, nil
	}

	found, err := r.items.FindItemsByMPIDs(ctx, r.marketplaceID, mpIDs)
	if err != nil {
		return nil, err
	}

	existing := make(map[int64]*domain.Item, len(found))
	var duplicates []int64
	for i := range found {
		item := &found[i]
		if _, seen := existing[item.MPID]; seen {
			duplicates = append(duplicates, item.ID)
			continue
		}
		existing[item.MPID] = item
	}

	if len(duplicates) > 0 {
		r.log.Warn("healing duplicate items", "mp_ids", len(existing), "duplicates", len(duplicates))
		if deleteErr := r.items.DeleteItemRows(ctx, duplicates); deleteErr != nil {
			return nil, deleteErr
		}
	}
	return existing, nil
}

// reconcileItemFacts is the shared upsert path: every id in mpIDs ends up
// with exactly one item row. Ids with a fact get full fields; ids with
// only a summary get a placeholder whose facts facet is due immediately.
// releaseIDs are facts leases released in the same transaction.
func (r *Reconciler) reconcileItemFacts(
	ctx context.Context,
	mpIDs []int64,
	summaryByID map[int64]domain.ItemSummary,
	factByID map[int64]domain.ItemFact,
	releaseIDs []int64,
) (map[int64]*domain.Item, error) {
	existing, err := r.resolveExisting(ctx, mpIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var toInsert, toUpdate []*domain.Item
	colourIDsByMP := make(map[int64][]int64)
	result := make(map[int64]*domain.Item, len(mpIDs))

	for _, mpID := range mpIDs {
		fact, hasFact := factByID[mpID]
		if hasFact {
			colourIDs, colourErr := r.resolveColours(ctx, fact.Colours)
			if colourErr != nil {
				return nil, colourErr
			}
			colourIDsByMP[mpID] = colourIDs
		}

		if item, found := existing[mpID]; found {
			result[mpID] = item
			if hasFact {
				if applyErr := r.applyFact(ctx, item, fact); applyErr != nil {
					return nil, applyErr
				}
				toUpdate = append(toUpdate, item)
			}
			continue
		}

		item := &domain.Item{
			MPID:                         mpID,
			MarketplaceID:                r.marketplaceID,
			FactsRefreshIntervalSecs:     int64(r.intervals.ItemFacts.Seconds()),
			RevisionsRefreshIntervalSecs: int64(r.intervals.Revisions.Seconds()),
			// New items are due for a revision straight away.
			RevisionsNextDueAt: sql.NullTime{Time: now, Valid: true},
		}
		if hasFact {
			if applyErr := r.applyFact(ctx, item, fact); applyErr != nil {
				return nil, applyErr
			}
			item.FactsNextDueAt = sql.NullTime{Time: now.Add(r.intervals.ItemFacts), Valid: true}
		} else {
			// Placeholder: the item api had nothing, so the facts
			// facet stays due until it does.
			item.Name = summaryByID[mpID].Name
			item.FactsNextDueAt = sql.NullTime{Time: now, Valid: true}
		}
		toInsert = append(toInsert, item)
		result[mpID] = item
	}

	if saveErr := r.items.SaveItemFacts(ctx, toInsert, toUpdate, releaseIDs); saveErr != nil {
		return nil, saveErr
	}

	var colourPairs [][2]int64
	for mpID, colourIDs := range colourIDsByMP {
		item := result[mpID]
		for _, colourID := range colourIDs {
			colourPairs = append(colourPairs, [2]int64{item.ID, colourID})
		}
	}
	if attachErr := r.items.AttachItemColours(ctx, colourPairs); attachErr != nil {
		return nil, attachErr
	}

	r.metrics.IncReconciled("items", len(toInsert)+len(toUpdate))
	return result, nil
}

// applyFact writes fact fields onto an item, resolving brand and seller
// lookups.
func (r *Reconciler) applyFact(ctx context.Context, item *domain.Item, fact domain.ItemFact) error {
	item.Name = fact.Name
	item.IsDigital = fact.IsDigital
	item.IsAdult = fact.IsAdult
	item.RootID = sql.NullInt64{Int64: fact.RootID, Valid: fact.RootID != 0}
	item.SizeName = sql.NullString{String: fact.SizeName, Valid: fact.SizeName != ""}
	item.SizeOrigName = sql.NullString{String: fact.SizeOrigName, Valid: fact.SizeOrigName != ""}

	if fact.BrandName != "" || fact.BrandMPID != 0 {
		brandID, err := r.resolveLookup(ctx, domain.LookupBrand, fact.BrandName, fact.BrandMPID)
		if err != nil {
			return fmt.Errorf("resolve brand for item %d: %w", fact.MPID, err)
		}
		item.BrandID = sql.NullInt64{Int64: brandID, Valid: true}
	}
	if fact.SellerName != "" {
		sellerID, err := r.resolveLookup(ctx, domain.LookupSeller, fact.SellerName, 0)
		if err != nil {
			return fmt.Errorf("resolve seller for item %d: %w", fact.MPID, err)
		}
		item.SellerID = sql.NullInt64{Int64: sellerID, Valid: true}
	}
	return nil
}

func (r *Reconciler) resolveColours(ctx context.Context, colours []domain.ColourFact) ([]int64, error) {
	ids := make([]int64, 0, len(colours))
	for _, colour := range colours {
		if colour.Name == "" && colour.MPID == 0 {
			continue
		}
		id, err := r.resolveLookup(ctx, domain.LookupColour, colour.Name, colour.MPID)
		if err != nil {
			return nil, fmt.Errorf("resolve colour: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReconcileClaimedFacts folds item api facts into claimed items and
// releases every claimed facts lease, including items the api did not
// return.
func (r *Reconciler) ReconcileClaimedFacts(ctx context.Context, claimed []domain.Item, facts []domain.ItemFact) error {
	releaseIDs := make([]int64, len(claimed))
	mpIDs := make([]int64, len(claimed))
	for i := range claimed {
		releaseIDs[i] = claimed[i].ID
		mpIDs[i] = claimed[i].MPID
	}

	factByID := make(map[int64]domain.ItemFact, len(facts))
	for _, fact := range facts {
		factByID[fact.MPID] = fact
		if !slices.Contains(mpIDs, fact.MPID) {
			mpIDs = append(mpIDs, fact.MPID)
		}
	}

	_, err := r.reconcileItemFacts(ctx, mpIDs, nil, factByID, releaseIDs)
	return err
}

// AppendClaimedRevisions appends one revision per observed fact and
// releases every claimed revision lease in the same transaction. Claimed
// items with no observed fact get no revision but their schedule still
// advances; an item the api has forgotten must not be retried hot.
func (r *Reconciler) AppendClaimedRevisions(ctx context.Context, claimed []domain.Item, facts []domain.RevisionFact) error {
	idByMP := make(map[int64]int64, len(claimed))
	releaseIDs := make([]int64, len(claimed))
	for i := range claimed {
		idByMP[claimed[i].MPID] = claimed[i].ID
		releaseIDs[i] = claimed[i].ID
	}

	revisions := buildRevisions(idByMP, facts)
	if err := r.items.AppendRevisions(ctx, revisions, releaseIDs); err != nil {
		return err
	}

	r.metrics.IncReconciled("revisions", len(revisions))
	return nil
}

// buildRevisions converts observed facts into revision rows for known
// items, ordered by item id for stable insertion.
func buildRevisions(idByMP map[int64]int64, facts []domain.RevisionFact) []*domain.Revision {
	revisions := make([]*domain.Revision, 0, len(facts))
	for _, fact := range facts {
		itemID, known := idByMP[fact.MPID]
		if !known {
			continue
		}
		revisions = append(revisions, &domain.Revision{
			ItemID:       itemID,
			Rating:       fact.Rating,
			CommentsNum:  fact.CommentsNum,
			IsNew:        fact.IsNew,
			IsBestseller: fact.IsBestseller,
			Price:        fact.Price,
			SalePrice:    fact.SalePrice,
			AvailableQty: fact.AvailableQty,
		})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].ItemID < revisions[j].ItemID })
	return revisions
}
