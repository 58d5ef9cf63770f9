package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/aiscore/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the jobs and predictions tables",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	if err := repository.NewJobRepository(db, logger).AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("schema migrated")
	return nil
}
