package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nkozyrev/mpcrawl/internal/crawl"
	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/engine"
	"github.com/nkozyrev/mpcrawl/internal/metrics"
	"github.com/nkozyrev/mpcrawl/internal/reconcile"
	"github.com/nkozyrev/mpcrawl/internal/snapshot"
)

var (
	multiplierFlag   float64
	fromSnapshotFlag string
	snapshotOutFlag  string
)

func crawlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass for an entity type",
	}
	cmd.PersistentFlags().Float64Var(&multiplierFlag, "multiplier", -1,
		"worker count as a multiple of GOMAXPROCS (0 runs inline; overrides config)")

	categories := &cobra.Command{
		Use:   "categories",
		Short: "Sync the full category tree from the marketplace",
		RunE:  runCrawlCategories,
	}
	categories.Flags().StringVar(&fromSnapshotFlag, "from-snapshot", "",
		"reconcile from a snapshot file instead of fetching")
	categories.Flags().StringVar(&snapshotOutFlag, "snapshot-out", "",
		"write the parsed tree to this file before reconciling")
	cmd.AddCommand(categories)

	cmd.AddCommand(&cobra.Command{
		Use:   "items",
		Short: "Crawl due category listings and reconcile their items",
		RunE:  runCrawlProcessor(newListingProcessor),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "facts",
		Short: "Refresh due item facts through the item api",
		RunE:  runCrawlProcessor(newFactsProcessor),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revisions",
		Short: "Append revisions for due items",
		RunE:  runCrawlProcessor(newRevisionProcessor),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "images",
		Short: "Download due item images",
		RunE:  runCrawlProcessor(newImageProcessor),
	})

	return cmd
}

// crawlEnv extends the base environment with everything a crawl needs.
type crawlEnv struct {
	*env
	marketplaceID int64
	metrics       *metrics.Metrics
	reconciler    *reconcile.Reconciler
	opts          crawl.Options
}

func setupCrawl(ctx context.Context) (*crawlEnv, error) {
	e, err := setup()
	if err != nil {
		return nil, err
	}
	// Every log line of one pass carries the same id, so interleaved
	// output from parallel passes stays attributable.
	e.log = e.log.With("pass_id", uuid.NewString())

	mp, err := e.store.Marketplaces.GetOrCreate(ctx, e.cfg.Marketplace.Name)
	if err != nil {
		e.close()
		return nil, err
	}

	m := metrics.New()
	rec, err := reconcile.New(mp.ID, e.store, e.store, e.store, e.cfg.Intervals, m, e.log)
	if err != nil {
		e.close()
		return nil, err
	}

	return &crawlEnv{
		env:           e,
		marketplaceID: mp.ID,
		metrics:       m,
		reconciler:    rec,
		opts: crawl.Options{
			MarketplaceID: mp.ID,
			LeaseTimeout:  e.cfg.Crawler.LeaseTimeout,
			BatchSize:     e.cfg.Crawler.BatchSize,
			RetryDelay:    e.cfg.Crawler.RetryDelay,
			PerPage:       e.cfg.Marketplace.ItemsPerPage,
		},
	}, nil
}

func (ce *crawlEnv) multiplier() float64 {
	if multiplierFlag >= 0 {
		return multiplierFlag
	}
	return ce.cfg.Crawler.Multiplier
}

type processorBuilder func(ce *crawlEnv) (engine.Processor, error)

func newListingProcessor(ce *crawlEnv) (engine.Processor, error) {
	adapter, err := ce.adapter()
	if err != nil {
		return nil, err
	}
	return crawl.NewListingProcessor(ce.store.Categories, adapter, ce.reconciler,
		ce.opts, ce.metrics, ce.log), nil
}

func newFactsProcessor(ce *crawlEnv) (engine.Processor, error) {
	adapter, err := ce.adapter()
	if err != nil {
		return nil, err
	}
	return crawl.NewFactsProcessor(ce.store.Items, adapter, ce.reconciler,
		ce.opts, ce.metrics, ce.log), nil
}

func newRevisionProcessor(ce *crawlEnv) (engine.Processor, error) {
	adapter, err := ce.adapter()
	if err != nil {
		return nil, err
	}
	return crawl.NewRevisionProcessor(ce.store.Items, adapter, ce.reconciler,
		ce.opts, ce.metrics, ce.log), nil
}

func newImageProcessor(ce *crawlEnv) (engine.Processor, error) {
	adapter, err := ce.adapter()
	if err != nil {
		return nil, err
	}
	return crawl.NewImageProcessor(ce.store.Images, adapter,
		ce.opts, ce.metrics, ce.log), nil
}

// runCrawlProcessor runs one processor under a worker pool with the
// lease reaper on a cron schedule alongside.
func runCrawlProcessor(build processorBuilder) func(*cobra.Command, []string) error {
	return func(cobraCmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ce, err := setupCrawl(ctx)
		if err != nil {
			return err
		}
		defer ce.close()

		processor, err := build(ce)
		if err != nil {
			return err
		}

		stopReaper, err := startReaper(ctx, ce)
		if err != nil {
			return err
		}
		defer stopReaper()

		pool := engine.NewPool(processor, ce.multiplier(), ce.cfg.Crawler.Backoff, ce.log)
		if runErr := pool.Run(ctx); runErr != nil {
			return fmt.Errorf("crawl %s: %w", processor.Name(), runErr)
		}
		ce.log.Info("crawl pass finished",
			"facet", processor.Name(), "totals", ce.metrics.Summary())
		return nil
	}
}

// startReaper schedules periodic stale-lease sweeps for the lifetime of
// a crawl.
func startReaper(ctx context.Context, ce *crawlEnv) (func(), error) {
	reaper := newLeaseReaper(ce.env)
	c := cron.New()
	job := func() {
		released, err := reaper.ReapStale(ctx)
		if err != nil {
			ce.log.Error("lease reap failed", "error", err)
			return
		}
		ce.metrics.AddLeaseReclaimed(released)
	}
	if _, err := c.AddFunc(ce.cfg.Crawler.ReapEvery, job); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", ce.cfg.Crawler.ReapEvery, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func newLeaseReaper(e *env) *database.LeaseReaper {
	return database.NewLeaseReaper(e.db, e.log, e.cfg.Crawler.LeaseTimeout)
}

func runCrawlCategories(cobraCmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ce, err := setupCrawl(ctx)
	if err != nil {
		return err
	}
	defer ce.close()

	roots, err := loadCategoryTree(ctx, ce)
	if err != nil {
		return err
	}

	synced, err := ce.reconciler.SyncCategoryTree(ctx, roots)
	if err != nil {
		return fmt.Errorf("sync category tree: %w", err)
	}
	ce.log.Info("category tree synced", "categories", synced)
	return nil
}

func loadCategoryTree(ctx context.Context, ce *crawlEnv) ([]*domain.CategoryFact, error) {
	if fromSnapshotFlag != "" {
		file, err := snapshot.Read(fromSnapshotFlag)
		if err != nil {
			return nil, err
		}
		ce.log.Info("reconciling category tree from snapshot",
			"file", fromSnapshotFlag, "taken_at", file.TakenAt.String())
		return file.Roots, nil
	}

	adapter, err := ce.adapter()
	if err != nil {
		return nil, err
	}
	roots, err := adapter.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch category tree: %w", err)
	}

	if snapshotOutFlag != "" {
		if writeErr := snapshot.Write(snapshotOutFlag, adapter.Name(), roots); writeErr != nil {
			return nil, writeErr
		}
		ce.log.Info("category tree snapshot written", "file", snapshotOutFlag)
	}
	return roots, nil
}
