package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"task-management-api/internal/app"
	"task-management-api/internal/config"
	"task-management-api/internal/logger"
)

// NewRootCmd serves the API when no subcommand is given.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "task-management-api",
		Short:        "Authentication core of the task management API",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			_ = godotenv.Load()
			slog.SetDefault(logger.New(cmd.ErrOrStderr(), os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
		},
		RunE: runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCreateUserCmd())

	return cmd
}

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		return err
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		return err
	}
	return nil
}
