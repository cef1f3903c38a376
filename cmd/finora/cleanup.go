package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"finora/internal/app"
	"finora/internal/config"
	"finora/internal/maintenance"
	"finora/internal/observability"
)

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired refresh tokens and stale one-time tokens",
		Long: `Run one maintenance pass, the same one the cron endpoint triggers:
drop expired refresh entries and clear lapsed verification and reset tokens.`,
		RunE: runCleanup,
	}
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(!skipDotEnv)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return oops.Code("LOGGER_FAILED").With("operation", "init logger").Wrap(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to store").Wrap(err)
	}
	defer stores.Close(context.Background())

	result, err := maintenance.Run(ctx, stores.Auth, logger, time.Now())
	if err != nil {
		return oops.Code("CLEANUP_FAILED").With("operation", "purge expired tokens").Wrap(err)
	}

	cmd.Printf("deleted %d refresh tokens, cleared %d verification tokens and %d reset tokens\n",
		result.DeletedRefreshTokens, result.ClearedVerificationToken, result.ClearedResetTokens)
	return nil
}
