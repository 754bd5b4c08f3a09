package main

import (
	"fmt"

	"enrollment-service/internal/orders"
	"enrollment-service/internal/stores/postgres"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending order store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if dsn == "" {
				dsn = envOr("DATABASE_URL", "")
			}
			if dsn == "" {
				return fmt.Errorf("DATABASE_URL or --dsn is required")
			}
			db, err := postgres.OpenDB(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return orders.Migrate(cmd.Context(), db)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string (defaults to DATABASE_URL)")
	return cmd
}
