package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/opal/pkg/metrics"
	"github.com/ravi-parthasarathy/opal/pkg/planner"
	"github.com/ravi-parthasarathy/opal/pkg/server"
	"github.com/ravi-parthasarathy/opal/pkg/store"
	"github.com/ravi-parthasarathy/opal/pkg/store/postgres"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx := signalContext(cmd.Context())

			srv, closeStore, err := a.buildServer(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen(addr) }()
			slog.Info("serving", "addr", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

// buildServer wires store, engine, planner and metrics. With no database URL
// configured the in-memory store is used.
func (a *app) buildServer(ctx context.Context) (*server.Server, func(), error) {
	var (
		st        store.Store
		closeFunc = func() {}
	)
	if url := a.cfg.Database.URL; url != "" {
		pg, pool, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		st, closeFunc = pg, pool.Close
		slog.Info("using postgres store")
	} else {
		st = store.NewMemory()
		slog.Info("using in-memory store")
	}

	reg, err := a.registry()
	if err != nil {
		closeFunc()
		return nil, nil, err
	}
	gen, err := a.generator()
	if err != nil {
		closeFunc()
		return nil, nil, err
	}

	m := metrics.NewRegistry()
	eng, err := workflow.NewEngine(reg, workflow.WithLogger(slog.Default()), workflow.WithRecorder(m))
	if err != nil {
		closeFunc()
		return nil, nil, err
	}

	srv := server.New(st, eng,
		server.WithPlanner(&planner.Architect{Generator: gen}),
		server.WithMetrics(m),
		server.WithLogger(slog.Default()),
	)
	return srv, closeFunc, nil
}
