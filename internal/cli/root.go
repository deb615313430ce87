package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/transfa/core-banking-service/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "core-banking",
	Short: "Ledger, balances and recurring payments for Transfa",
	Long: `core-banking owns accounts, balances and the double-entry ledger.
It serves the money-movement API, provisions accounts for newly registered
users, and charges due subscriptions on a fixed poll interval.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads .env into the process environment before viper sees it.
func loadConfig(logger *slog.Logger) (config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", "error", err)
	}
	return config.LoadConfig(".")
}

func newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "core-banking")
	slog.SetDefault(logger)
	return logger
}
