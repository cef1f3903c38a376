package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"finora/internal/app"
	"finora/internal/config"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Apply pending SQL migrations for the postgres driver or create the
collection indexes for the mongo driver.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(!skipDotEnv)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.Printf("Connecting to %s store...\n", cfg.StoreDriver)
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to store").Wrap(err)
	}
	defer stores.Close(context.Background())

	cmd.Println("Running migrations...")
	applied, err := stores.Migrate(ctx)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	if len(applied) == 0 {
		cmd.Println("Nothing to apply")
		return nil
	}
	for _, step := range applied {
		cmd.Println("applied", step)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
