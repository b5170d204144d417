package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the postgres catalog schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return fmt.Errorf("%w: postgres.dsn is required", config.ErrInvalidConfig)
		}
		applied, err := catalog.Migrate(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		version, dirty, err := catalog.MigrationVersion(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		if !applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Schema already up to date (version %d)\n", version)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database migrations completed (version %d, dirty %t)\n", version, dirty)
		return nil
	},
}
