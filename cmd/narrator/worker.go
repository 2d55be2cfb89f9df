package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"news_narrator/internal/scheduler"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume pipeline jobs and sweep stale work",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctx.cliLogger()
			opts := appOptions{engines: true, dispatch: true}

			return ctx.withApp(cmd.Context(), opts, logger, func(app *application) error {
				sweeper := scheduler.NewScheduler(
					app.pipeline,
					app.cfg.Sweeper.Interval,
					app.cfg.Sweeper.StaleAfter,
					logger,
				)

				logger.Info("worker started",
					"dispatch", app.cfg.Dispatch.Mode,
					"workers", app.cfg.Dispatch.Workers,
					"narration", app.cfg.Synthesis.Enabled,
				)

				g, gctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error { return sweeper.Start(gctx) })
				g.Go(func() error { return app.consume(gctx) })

				err := g.Wait()
				if errors.Is(err, context.Canceled) {
					logger.Info("worker stopped")
					return nil
				}
				return err
			})
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctx.cliLogger()
			// newApplication migrates on connect.
			return ctx.withApp(cmd.Context(), appOptions{}, logger, func(app *application) error {
				logger.Info("database schema is up to date", "driver", app.cfg.Database.Driver)
				return nil
			})
		},
	}
}
