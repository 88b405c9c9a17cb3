package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/resume/internal/config"
	"github.com/vango-dev/resume/pkg/inspect"
	"github.com/vango-dev/resume/pkg/metrics"
	"github.com/vango-dev/resume/pkg/reactive"
	"github.com/vango-dev/resume/pkg/snapshot"
	"github.com/vango-dev/resume/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		addr     string
		dsn      string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored snapshots over HTTP",
		Long: `Start an HTTP server exposing the snapshot store.

Endpoints:
  GET    /snapshots                list ids
  GET    /snapshots/{id}           snapshot (?format=cbor)
  GET    /snapshots/{id}/graph     graph summary
  GET    /snapshots/{id}/document  HTML page with the embedded snapshot
  PUT    /snapshots/{id}           store a snapshot
  DELETE /snapshots/{id}           remove a snapshot
  GET    /metrics                  Prometheus metrics

Examples:
  resume serve
  resume serve --addr=:8080 --dsn=sqlite:snapshots.db --read-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			if dsn != "" {
				cfg.Store.DSN = dsn
			}
			if readOnly {
				cfg.Serve.ReadOnly = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from configuration)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Store DSN (default from configuration)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Disable uploads and deletes")

	return cmd
}

// runServe serves until ctx is done. If ready is non-nil it receives the
// bound listener address once the server accepts connections.
func runServe(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	logger := slog.Default().With("component", "serve")

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	format, err := store.ParseFormat(cfg.Snapshot.Format)
	if err != nil {
		return err
	}
	ttl, err := cfg.TTL()
	if err != nil {
		return err
	}

	handlerCfg := inspect.Config{
		Store:         st,
		Logger:        logger,
		ReadOnly:      cfg.Serve.ReadOnly,
		Format:        format,
		TTL:           ttl,
		ResumeOptions: decodeOptions(cfg, snapshot.WithLogger(logger)),
	}
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRegistry(registry),
		)
		handlerCfg.Gatherer = registry
		handlerCfg.ResumeOptions = append(handlerCfg.ResumeOptions,
			snapshot.WithObserver(collector),
			snapshot.WithContainerOptions(reactive.WithObserver(collector)),
		)
	}

	ln, err := net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Serve.Addr, err)
	}

	srv := &http.Server{
		Handler:           inspect.NewHandler(handlerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving snapshots",
			"addr", ln.Addr().String(),
			"store", cfg.Store.DSN,
			"read_only", cfg.Serve.ReadOnly,
			"metrics", cfg.Metrics.Enabled)
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
