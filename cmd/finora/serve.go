package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"finora/internal/app"
)

const shutdownGrace = 15 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  `Start the HTTP API on PORT and shut down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")

	return cmd
}

func runServe(cmd *cobra.Command, migrate bool) error {
	rt, err := app.Build(app.Options{LoadDotEnv: !skipDotEnv, RunMigrations: migrate})
	if err != nil {
		return oops.Code("BOOTSTRAP_FAILED").With("operation", "build runtime").Wrap(err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			cmd.PrintErrln("shutdown:", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", rt.Config.Port),
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		rt.Logger.Info("server_start", map[string]any{"addr": server.Addr, "driver": rt.Config.StoreDriver})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("server_failed", map[string]any{"error": err.Error()})
			return oops.Code("SERVER_FAILED").With("operation", "serve http").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.Logger.Info("server_shutdown", map[string]any{"grace": shutdownGrace.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").With("operation", "shutdown http").Wrap(err)
	}
	return nil
}
