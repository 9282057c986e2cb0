// Package crawl implements the engine processors: one claim-process-
// release cycle per entity type, glued from store, adapter, and
// reconciler.
package crawl

import (
	"errors"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/engine"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
)

// Options carries the per-cycle settings shared by all processors.
type Options struct {
	MarketplaceID int64
	LeaseTimeout  time.Duration
	BatchSize     int
	// RetryDelay pushes a failed entity's next attempt out instead of
	// hot-looping it.
	RetryDelay time.Duration
	PerPage    int
}

// classifyEmpty maps "nothing claimed" onto an engine outcome: idle when
// future-due work exists, exhausted when the facet is empty.
func classifyEmpty(hasFuture bool, err error) (engine.Outcome, error) {
	if err != nil {
		return 0, err
	}
	if hasFuture {
		return engine.OutcomeIdleFuture, nil
	}
	return engine.OutcomeExhausted, nil
}

// isFatal reports whether a cycle error must stop the pool. Store
// failures are fatal; fetch failures are an entity problem and the
// entity is requeued instead.
func isFatal(err error) bool {
	if database.IsInfrastructure(err) {
		return true
	}
	return !fetch.IsTransient(err) && !errors.Is(err, fetch.ErrGone)
}
