package crawl

import (
	"context"
	"errors"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/engine"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/marketplace"
	"github.com/nkozyrev/mpcrawl/internal/metrics"
)

// FactsItemStore is the item-facts processor's claim surface.
type FactsItemStore interface {
	ClaimDueFacts(ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int) ([]domain.Item, error)
	RequeueFacts(ctx context.Context, ids []int64, delay time.Duration) error
	MarkDeleted(ctx context.Context, ids []int64) error
	HasFutureFactsWork(ctx context.Context, marketplaceID int64) (bool, error)
}

// FactsReconciler folds item api facts back into claimed items.
type FactsReconciler interface {
	ReconcileClaimedFacts(ctx context.Context, claimed []domain.Item, facts []domain.ItemFact) error
}

// FactsProcessor refreshes the slowly-changing facts facet: one claimed
// batch per cycle through the item api.
type FactsProcessor struct {
	store   FactsItemStore
	adapter marketplace.Adapter
	rec     FactsReconciler
	opts    Options
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewFactsProcessor creates an item-facts processor.
func NewFactsProcessor(
	store FactsItemStore,
	adapter marketplace.Adapter,
	rec FactsReconciler,
	opts Options,
	m *metrics.Metrics,
	log logger.Interface,
) *FactsProcessor {
	return &FactsProcessor{store: store, adapter: adapter, rec: rec, opts: opts, metrics: m, log: log}
}

func (p *FactsProcessor) Name() string { return "item-facts" }

// ProcessNext claims one batch and reconciles its facts.
func (p *FactsProcessor) ProcessNext(ctx context.Context) (engine.Outcome, error) {
	started := time.Now()

	claimed, err := p.store.ClaimDueFacts(ctx, p.opts.MarketplaceID, p.opts.LeaseTimeout, p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		p.metrics.IncEmptyClaim("item_facts")
		return classifyEmpty(p.store.HasFutureFactsWork(ctx, p.opts.MarketplaceID))
	}
	p.metrics.IncClaims("item_facts", len(claimed))

	mpIDs := make([]int64, len(claimed))
	ids := make([]int64, len(claimed))
	for i := range claimed {
		mpIDs[i] = claimed[i].MPID
		ids[i] = claimed[i].ID
	}

	facts, _, detailsErr := p.adapter.ItemDetails(ctx, mpIDs)
	if detailsErr != nil {
		if isFatal(detailsErr) {
			return 0, detailsErr
		}
		if errors.Is(detailsErr, fetch.ErrGone) {
			// The item api 404ed the whole id set: these items no
			// longer exist at the source.
			p.log.Warn("items gone from source, soft-deleting batch", "items", len(claimed))
			if delErr := p.store.MarkDeleted(ctx, ids); delErr != nil {
				return 0, delErr
			}
			return engine.OutcomeProcessed, nil
		}
		p.metrics.IncFetchError("item_facts")
		p.log.Warn("item facts fetch failed, requeueing batch",
			"items", len(claimed), "error", detailsErr)
		if requeueErr := p.store.RequeueFacts(ctx, ids, p.opts.RetryDelay); requeueErr != nil {
			return 0, requeueErr
		}
		return engine.OutcomeProcessed, nil
	}

	if reconcileErr := p.rec.ReconcileClaimedFacts(ctx, claimed, facts); reconcileErr != nil {
		return 0, reconcileErr
	}

	p.metrics.ObserveCycle("item_facts", time.Since(started))
	p.log.Debug("item facts batch reconciled",
		"claimed", len(claimed), "observed", len(facts), "elapsed", time.Since(started).String())
	return engine.OutcomeProcessed, nil
}
