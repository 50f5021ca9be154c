package main

import (
	"github.com/spf13/cobra"

	"workflow-assistant/backend/internal/mcp"
	"workflow-assistant/backend/internal/state"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	return runMigrateWith(cmd.Context(), cfg, logger)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closer, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	removed, err := state.NewStore(repo, cfg.State.TTL, logger).SweepExpired(ctx)
	if err != nil {
		return err
	}
	logger.Info("Expired state swept", "removed", removed, "ttl", cfg.State.TTL)
	return nil
}

func runMCPStdio(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closer, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := buildApp(ctx, cfg, logger, repo)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("Serving MCP over stdio")
	return mcp.NewServer(a.executor, a.dispatcher, version).ServeStdio()
}
