// Package main is the entry point for the price aggregator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"priceaggregator/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "priceaggregator",
		Short:        "Collects currency prices from many providers and aggregates them",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml if present)")

	// withApp loads config, builds a logger and an App in the given mode, runs fn and tears down.
	withApp := func(mode appMode, fn func(ctx context.Context, app *App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			sugar := logger.Sugar()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, sugar, mode)
			if err != nil {
				sugar.Errorw("Failed to initialize app", "error", err)
				return err
			}
			if err := fn(ctx, app); err != nil {
				sugar.Errorw("Command failed", "command", cmd.Name(), "error", err)
				_ = app.close()
				return err
			}
			if mode != modeServe {
				return app.close()
			}
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the task worker and the scheduler",
			Args:  cobra.NoArgs,
			RunE: withApp(modeServe, func(ctx context.Context, app *App) error {
				return app.Run(ctx)
			}),
		},
		newRunCmd(withApp),
		&cobra.Command{
			Use:   "seed",
			Short: "Insert or update configured currencies and sources",
			Args:  cobra.NoArgs,
			RunE: withApp(modeStorage, func(ctx context.Context, app *App) error {
				return app.maintenance.Seed(ctx, app.cfg)
			}),
		},
		newPruneCmd(withApp),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

type appRunner func(mode appMode, fn func(ctx context.Context, app *App) error) func(*cobra.Command, []string) error

func newRunCmd(withApp appRunner) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion, aggregation and arbitrage pass in-process",
		Args:  cobra.NoArgs,
		RunE: withApp(modePass, func(ctx context.Context, app *App) error {
			if err := app.maintenance.Seed(ctx, app.cfg); err != nil {
				return err
			}
			report, err := app.pipeline.RunPass(ctx, force)
			if err != nil {
				return err
			}
			app.logger.Infow("Pass report",
				"pass_id", report.PassID,
				"sources", len(report.Ingested),
				"aggregated", report.Aggregated,
				"no_data", report.NoData,
				"opportunities", report.Opportunities,
				"errors", len(report.Errors),
			)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "poll every source regardless of its cache lifetime")
	return cmd
}

func newPruneCmd(withApp appRunner) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete quotes and failure records older than --days",
		Args:  cobra.NoArgs,
		RunE: withApp(modeStorage, func(ctx context.Context, app *App) error {
			quotes, failures, err := app.maintenance.Prune(ctx, days)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d quotes and %d failure records\n", quotes, failures)
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", 30, "age in days of the oldest records to keep")
	return cmd
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
