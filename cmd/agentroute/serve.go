package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agentroute/internal/adapter/httpapi"
	"agentroute/internal/infra/logger"
	"agentroute/internal/usecase/scheduling"
)

func newServeCommand(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, event stream and maintenance jobs",
		Example: `  agentroute serve
  agentroute serve --addr 0.0.0.0:8420 --config /etc/agentroute/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if addr != "" {
					a.cfg.Server.Addr = addr
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serve runs the API server and the scheduler until ctx is done.
func serve(ctx context.Context, a *app) error {
	srv := httpapi.New(a.cfg.Server, httpapi.Deps{
		Workflows: a.orch,
		Analyzer:  a.analyzer,
		Planner:   a.templates,
		Router:    a.router,
		Agents:    a.agents,
		Health:    a.store,
		Events:    a.bus,
		Metrics:   a.metrics.Handler(),
		Strategy:  a.strategy,
		Fallback:  a.fallback,
	}, logger.Component(a.log, "api"))

	var scheduler *scheduling.Scheduler
	if a.cfg.Scheduler.Enabled {
		scheduler = scheduling.NewScheduler(logger.Component(a.log, "scheduler"))
		maint := scheduling.NewMaintenance(a.store, a.orch, a.cfg.Storage.Retention, logger.Component(a.log, "maintenance"))
		if err := scheduling.Setup(scheduler, a.cfg.Scheduler, maint); err != nil {
			return err
		}
	}

	a.log.Info("agentroute starting",
		"addr", a.cfg.Server.Addr,
		"storage", a.cfg.Storage.Backend,
		"executor", a.cfg.Executor.Type,
		"strategy", a.strategy,
		"scheduler", scheduler != nil,
		"auth", a.cfg.Server.Token != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if scheduler != nil {
		g.Go(func() error {
			if err := scheduler.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return scheduler.Stop()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}
