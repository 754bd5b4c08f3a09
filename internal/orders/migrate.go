package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"enrollment-service/internal/orders/migrations"

	"github.com/pressly/goose/v3"
)

// Migrate applies every pending migration embedded in the binary.
func Migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", slog.Int64("Version", r.Source.Version), slog.Duration("Duration", r.Duration))
	}
	return nil
}
