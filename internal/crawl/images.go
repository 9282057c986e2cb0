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

// ImageStore is the image processor's claim surface.
type ImageStore interface {
	ClaimDue(ctx context.Context, marketplaceID int64, leaseTimeout time.Duration, limit int) ([]domain.Image, error)
	StoreContent(ctx context.Context, id int64, content []byte, contentType string) error
	Requeue(ctx context.Context, id int64, delay time.Duration) error
	MarkDeleted(ctx context.Context, ids []int64) error
	HasFutureWork(ctx context.Context, marketplaceID int64) (bool, error)
}

// ImageProcessor downloads one claimed batch of image binaries per
// cycle. Each image fails or succeeds on its own: a gone URL soft-
// deletes the row, a transient failure requeues it.
type ImageProcessor struct {
	store   ImageStore
	adapter marketplace.Adapter
	opts    Options
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewImageProcessor creates an image processor.
func NewImageProcessor(
	store ImageStore,
	adapter marketplace.Adapter,
	opts Options,
	m *metrics.Metrics,
	log logger.Interface,
) *ImageProcessor {
	return &ImageProcessor{store: store, adapter: adapter, opts: opts, metrics: m, log: log}
}

func (p *ImageProcessor) Name() string { return "images" }

// ProcessNext claims and downloads one batch of images.
func (p *ImageProcessor) ProcessNext(ctx context.Context) (engine.Outcome, error) {
	started := time.Now()

	claimed, err := p.store.ClaimDue(ctx, p.opts.MarketplaceID, p.opts.LeaseTimeout, p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		p.metrics.IncEmptyClaim("images")
		return classifyEmpty(p.store.HasFutureWork(ctx, p.opts.MarketplaceID))
	}
	p.metrics.IncClaims("images", len(claimed))

	for i := range claimed {
		if processErr := p.processImage(ctx, &claimed[i]); processErr != nil {
			return 0, processErr
		}
	}

	p.metrics.ObserveCycle("images", time.Since(started))
	return engine.OutcomeProcessed, nil
}

func (p *ImageProcessor) processImage(ctx context.Context, image *domain.Image) error {
	content, contentType, err := p.adapter.ImageData(ctx, image.MPURL)
	switch {
	case err == nil:
		return p.store.StoreContent(ctx, image.ID, content, contentType)
	case errors.Is(err, fetch.ErrGone):
		p.metrics.IncFetchError("image_gone")
		p.log.Info("image gone from source, soft-deleting", "id", image.ID, "url", image.MPURL)
		return p.store.MarkDeleted(ctx, []int64{image.ID})
	case !isFatal(err):
		p.metrics.IncFetchError("image")
		p.log.Warn("image download failed, requeueing", "id", image.ID, "url", image.MPURL, "error", err)
		return p.store.Requeue(ctx, image.ID, p.opts.RetryDelay)
	default:
		return err
	}
}
