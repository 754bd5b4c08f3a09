package main

import (
	"fmt"

	"enrollment-service/internal/config"

	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Complete enrollment for confirmed orders that were never enrolled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			done, err := a.purchase.Reconcile(cmd.Context(), limit)
			fmt.Fprintf(cmd.OutOrStdout(), "enrolled %d orders\n", done)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of orders to replay")
	return cmd
}
