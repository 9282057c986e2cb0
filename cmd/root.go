// Package cmd implements the mpcrawl command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/nkozyrev/mpcrawl/internal/config"
	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/fetch"
	"github.com/nkozyrev/mpcrawl/internal/logger"
	"github.com/nkozyrev/mpcrawl/internal/marketplace"
	"github.com/nkozyrev/mpcrawl/internal/marketplace/wildberries"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "mpcrawl",
		Short: "An incremental marketplace catalog crawler",
		Long: `mpcrawl keeps a local mirror of a marketplace catalog fresh:
categories, items, price/stock revisions, and images, each on its own
schedule, crawled by concurrent workers that never process the same
entity twice.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := config.Init(cfgFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(crawlCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(statsCommand())
	rootCmd.AddCommand(reapCommand())
}

// env bundles the dependencies every command starts from.
type env struct {
	cfg   *config.Config
	log   logger.Interface
	db    *sqlx.DB
	store *database.Store
}

// setup loads configuration and connects the store.
func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug {
		cfg.Logger.Level = "debug"
		cfg.App.Debug = true
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &env{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: database.NewStore(db, log),
	}, nil
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		e.log.Warn("failed to close database", "error", err)
	}
}

// adapter builds the configured marketplace adapter.
func (e *env) adapter() (marketplace.Adapter, error) {
	client, err := fetch.NewClient(fetch.Options{
		Timeout:    e.cfg.Crawler.RequestTimeout,
		MaxRetries: e.cfg.Crawler.MaxRetries,
		Proxies:    e.cfg.Crawler.Proxies,
		UserAgents: e.cfg.Crawler.UserAgents,
	}, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch client: %w", err)
	}

	switch strings.ToLower(e.cfg.Marketplace.Name) {
	case "wildberries":
		return wildberries.New(client, e.cfg.Marketplace, e.log), nil
	default:
		return nil, fmt.Errorf("unknown marketplace %q", e.cfg.Marketplace.Name)
	}
}
