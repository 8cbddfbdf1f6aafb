package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// versionTable names the goose bookkeeping table of one target table. It is
// created before the target schema exists, so it is never schema qualified.
func versionTable(schema, table string) string {
	return "goose_" + schema + "__" + table
}

// migrations returns the versioned DDL of one target table
func migrations(d dialect, schema, table string) []*goose.Migration {
	qualified := d.qualify(schema, table)
	return []*goose.Migration{
		goose.NewGoMigration(1, &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				stmt := d.createSchema(schema)
				if stmt == "" {
					return nil
				}
				_, err := tx.ExecContext(ctx, stmt)
				return err
			},
		}, nil),
		goose.NewGoMigration(2, &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, createTableSQL(qualified))
				return err
			},
		}, &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+qualified)
				return err
			},
		}),
	}
}

func createTableSQL(qualified string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	country TEXT NOT NULL,
	indicator TEXT NOT NULL,
	date DATE NOT NULL,
	year INTEGER NOT NULL,
	quarter INTEGER NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	data_source TEXT NOT NULL,
	yoy_change DOUBLE PRECISION,
	moving_average DOUBLE PRECISION,
	zscore DOUBLE PRECISION,
	growth_category TEXT,
	is_anomaly BOOLEAN NOT NULL DEFAULT FALSE,
	loaded_at TIMESTAMP NOT NULL,
	PRIMARY KEY (country, indicator, date, data_source)
)`, qualified)
}

// migrate brings schema.table up to the latest version
func migrate(ctx context.Context, db *sql.DB, d dialect, schema, table string, logger *slog.Logger) error {
	store, err := database.NewStore(d.gooseDialect(), versionTable(schema, table))
	if err != nil {
		return fmt.Errorf("create migration store: %w", err)
	}
	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(store),
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(migrations(d, schema, table)...),
	)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate %s.%s: %w", schema, table, err)
	}
	for _, r := range results {
		logger.InfoContext(ctx, "warehouse_migration_applied",
			slog.Int64("version", r.Source.Version),
			slog.String("table", table),
			slog.Duration("duration", r.Duration))
	}
	return nil
}
