package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nkozyrev/mpcrawl/internal/database"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(*cobra.Command, []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			if err := database.RunMigrations(e.db, e.cfg.Database.MigrationsPath); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			e.log.Info("migrations applied", "path", e.cfg.Database.MigrationsPath)
			return nil
		},
	}
}
