// Package wildberries implements the marketplace adapter for
// wildberries.ru: an HTML catalog tree and listing pages plus JSON item
// and seller APIs.
package wildberries

import (
	"context"

	"github.com/nkozyrev/mpcrawl/internal/config"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/marketplace"
)

// Adapter crawls wildberries.ru.
type Adapter struct {
	fetcher marketplace.Fetcher
	cfg     config.MarketplaceConfig
	log     logger.Interface
}

// New creates a wildberries adapter.
func New(fetcher marketplace.Fetcher, cfg config.MarketplaceConfig, log logger.Interface) *Adapter {
	return &Adapter{fetcher: fetcher, cfg: cfg, log: log}
}

// Name returns the marketplace name used as the crawl scope key.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// ImageData downloads one product image.
func (a *Adapter) ImageData(ctx context.Context, url string) ([]byte, string, error) {
	result, err := a.fetcher.Fetch(ctx, url, fetch.KindBinary)
	if err != nil {
		return nil, "", err
	}
	return result.Body, result.ContentType, nil
}
