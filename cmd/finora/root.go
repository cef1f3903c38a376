package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var skipDotEnv bool

// NewRootCmd creates the root command for the Finora CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finora",
		Short: "Finora - personal finance API",
		Long: `Finora serves the account and ledger API: registration, sessions,
email verification, password recovery, transactions and budgets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&skipDotEnv, "no-dotenv", false, "do not load a .env file")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())

	return cmd
}
