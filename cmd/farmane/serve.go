package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jjestrada2/farmane/internal/api"
	"github.com/jjestrada2/farmane/internal/observability"
	"github.com/jjestrada2/farmane/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API",
		Long:  "Serves the chat HTTP and websocket API and purges expired locks and cancel flags on a schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath, appOpts{})
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTracing, err := observability.SetupTracing(ctx, a.cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("flush traces", zap.Error(err))
		}
	}()

	sw, err := sweeper.New(a.cfg.Sweeper.Schedule, map[string]sweeper.Target{
		"locks":        a.locks,
		"cancel_flags": a.flags,
	}, a.log)
	if err != nil {
		return err
	}

	if port <= 0 {
		port = a.cfg.Server.Port
	}
	deps := api.Deps{
		Chat:          a.service,
		Transcripts:   a.store,
		Notifications: a.hub,
		Logger:        a.log,
	}
	if a.cfg.Server.EnableMetrics {
		deps.Metrics = a.metrics.Handler()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Farmane listening on :%d\n", port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{Deps: deps, Port: port})
	})
	err = g.Wait()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	return err
}
