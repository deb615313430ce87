package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/transfa/core-banking-service/internal/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long:  `Apply or roll back the SQL migrations embedded in the binary against DATABASE_URL.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd, "up", store.MigrateUp)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		return runMigrate(cmd, "down", func(databaseURL string) (store.MigrationStatus, error) {
			return store.MigrateDown(databaseURL, steps)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd, "version", store.MigrationVersion)
	},
}

func runMigrate(cmd *cobra.Command, action string, run func(string) (store.MigrationStatus, error)) error {
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}

	status, err := run(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	logger.Info("migration finished", "action", action, "version", status.Version, "dirty", status.Dirty, "changed", status.Changed)
	fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", status.Version, status.Dirty)
	return nil
}
