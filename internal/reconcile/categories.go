package reconcile

import (
	"context"
	"fmt"

	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// SyncCategoryTree reconciles a full parsed tree against the store:
// every node is upserted by natural key parent-first, and nodes the
// source no longer reports are soft-deleted. Returns the number of
// nodes synced.
func (r *Reconciler) SyncCategoryTree(ctx context.Context, roots []*domain.CategoryFact) (int, error) {
	type workItem struct {
		fact     *domain.CategoryFact
		parentID *int64
	}
	work := make([]workItem, 0, len(roots))
	for _, root := range roots {
		work = append(work, workItem{fact: root})
	}

	var seenIDs []int64
	for len(work) > 0 {
		current := work[0]
		work = work[1:]

		if err := ctx.Err(); err != nil {
			return len(seenIDs), err
		}

		id, err := r.categories.UpsertCategory(ctx, r.marketplaceID,
			current.fact, current.parentID, r.intervals.Categories)
		if err != nil {
			return len(seenIDs), fmt.Errorf("sync category %q: %w", current.fact.Name, err)
		}
		seenIDs = append(seenIDs, id)

		parentID := id
		for _, child := range current.fact.Children {
			work = append(work, workItem{fact: child, parentID: &parentID})
		}
	}

	marked, err := r.categories.MarkMissingCategories(ctx, r.marketplaceID, seenIDs)
	if err != nil {
		return len(seenIDs), fmt.Errorf("mark missing categories: %w", err)
	}
	if marked > 0 {
		r.log.Info("soft-deleted categories missing from source", "count", marked)
	}

	r.metrics.IncReconciled("categories", len(seenIDs))
	return len(seenIDs), nil
}
