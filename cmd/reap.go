package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Release leases held longer than the configured timeout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			released, err := newLeaseReaper(e).ReapStale(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to reap stale leases: %w", err)
			}
			e.log.Info("stale leases released", "count", released)
			return nil
		},
	}
}
