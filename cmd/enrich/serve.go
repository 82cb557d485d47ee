package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the HTTP API; blocks until SIGINT/SIGTERM. With --with-worker a job worker runs in the same process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.OutOrStdout(), opts, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run a job worker in this process")
	return cmd
}

func runServe(ctx context.Context, logOut io.Writer, opts *rootOptions, withWorker bool) error {
	cfg, logger, err := opts.setup(logOut)
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	if withWorker {
		w, listen, err := app.newWorker(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
		g.Go(listen)
	}
	g.Go(func() error { return app.startHTTPServer(gctx, app.setupRouter()) })
	return g.Wait()
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a job worker",
		Long:  "Claim and run pending jobs until SIGINT/SIGTERM. Any number of workers may share one store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := opts.setup(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			app, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.cleanup()

			w, listen, err := app.newWorker(ctx)
			if err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			g.Go(listen)
			return g.Wait()
		},
	}
}
