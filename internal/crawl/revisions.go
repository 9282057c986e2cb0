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

// RevisionItemStore is the revision processor's claim surface.
type RevisionItemStore interface {
	ClaimDueRevisions(ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int) ([]domain.Item, error)
	RequeueRevisions(ctx context.Context, ids []int64, delay time.Duration) error
	MarkDeleted(ctx context.Context, ids []int64) error
	HasFutureRevisionWork(ctx context.Context, marketplaceID int64) (bool, error)
}

// RevisionReconciler appends observed revisions and releases the leases.
type RevisionReconciler interface {
	AppendClaimedRevisions(ctx context.Context, claimed []domain.Item, facts []domain.RevisionFact) error
}

// RevisionProcessor claims a batch of revision-due items per cycle and
// appends one revision each from the item api.
type RevisionProcessor struct {
	store   RevisionItemStore
	adapter marketplace.Adapter
	rec     RevisionReconciler
	opts    Options
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewRevisionProcessor creates a revision processor.
func NewRevisionProcessor(
	store RevisionItemStore,
	adapter marketplace.Adapter,
	rec RevisionReconciler,
	opts Options,
	m *metrics.Metrics,
	log logger.Interface,
) *RevisionProcessor {
	return &RevisionProcessor{store: store, adapter: adapter, rec: rec, opts: opts, metrics: m, log: log}
}

func (p *RevisionProcessor) Name() string { return "revisions" }

// ProcessNext claims one batch and appends its revisions.
func (p *RevisionProcessor) ProcessNext(ctx context.Context) (engine.Outcome, error) {
	started := time.Now()

	claimed, err := p.store.ClaimDueRevisions(ctx, p.opts.MarketplaceID, p.opts.LeaseTimeout, p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		p.metrics.IncEmptyClaim("revisions")
		return classifyEmpty(p.store.HasFutureRevisionWork(ctx, p.opts.MarketplaceID))
	}
	p.metrics.IncClaims("revisions", len(claimed))

	mpIDs := make([]int64, len(claimed))
	ids := make([]int64, len(claimed))
	for i := range claimed {
		mpIDs[i] = claimed[i].MPID
		ids[i] = claimed[i].ID
	}

	_, facts, detailsErr := p.adapter.ItemDetails(ctx, mpIDs)
	if detailsErr != nil {
		if isFatal(detailsErr) {
			return 0, detailsErr
		}
		if errors.Is(detailsErr, fetch.ErrGone) {
			p.log.Warn("items gone from source, soft-deleting batch", "items", len(claimed))
			if delErr := p.store.MarkDeleted(ctx, ids); delErr != nil {
				return 0, delErr
			}
			return engine.OutcomeProcessed, nil
		}
		p.metrics.IncFetchError("revisions")
		p.log.Warn("revision fetch failed, requeueing batch",
			"items", len(claimed), "error", detailsErr)
		if requeueErr := p.store.RequeueRevisions(ctx, ids, p.opts.RetryDelay); requeueErr != nil {
			return 0, requeueErr
		}
		return engine.OutcomeProcessed, nil
	}

	if reconcileErr := p.rec.AppendClaimedRevisions(ctx, claimed, facts); reconcileErr != nil {
		return 0, reconcileErr
	}

	p.metrics.ObserveCycle("revisions", time.Since(started))
	p.log.Debug("revision batch appended",
		"claimed", len(claimed), "observed", len(facts), "elapsed", time.Since(started).String())
	return engine.OutcomeProcessed, nil
}
