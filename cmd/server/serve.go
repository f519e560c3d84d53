package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/walktracker/internal/api/apiconnect"
	"github.com/mmynk/walktracker/internal/auth"
	"github.com/mmynk/walktracker/internal/config"
	"github.com/mmynk/walktracker/internal/feed"
	"github.com/mmynk/walktracker/internal/metrics"
	"github.com/mmynk/walktracker/internal/middleware"
	"github.com/mmynk/walktracker/internal/service"
	"github.com/mmynk/walktracker/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the walk tracker server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address, e.g. :8080")
	bindFlags(a.v, cmd.Flags(), map[string]string{"server.addr": "addr"})
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DB.Path)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	hub := feed.New(feed.WithHooks(m.ObserveChange, m.WatcherDropped))
	gateway := service.NewEntryService(store, hub, service.WithMetrics(m))
	statsSvc := service.NewStatsService(store,
		service.WithMetrics(m),
		service.WithStatsWindow(cfg.Stats.WindowDays, cfg.Location()),
		service.WithCacheTTL(cfg.Stats.CacheTTL),
	)

	interceptors := []connect.Interceptor{}
	switch jwtManager := auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenTTL); {
	case cfg.Auth.Secret != "" && cfg.Auth.Required:
		interceptors = append(interceptors, middleware.RequireAuth(jwtManager))
	case cfg.Auth.Secret != "":
		interceptors = append(interceptors, middleware.OptionalAuth(jwtManager))
	default:
		slog.Warn("auth.secret is not set, serving without authentication")
	}
	interceptors = append(interceptors, middleware.NewLoggingInterceptor(slog.Default()))
	handlerOpts := connect.WithInterceptors(interceptors...)

	mux := http.NewServeMux()
	entryPath, entryHandler := apiconnect.NewEntryServiceHandler(
		service.NewEntryHandler(gateway, service.WithMetrics(m)), handlerOpts)
	mux.Handle(entryPath, entryHandler)
	statsPath, statsHandler := apiconnect.NewStatsServiceHandler(
		service.NewStatsHandler(statsSvc), handlerOpts)
	mux.Handle(statsPath, statsHandler)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", healthz)

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		// Wrap with h2c for HTTP/2 without TLS (required for Connect streaming)
		Handler:           h2c.NewHandler(loggingMiddleware(corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		// Watch streams end with the server rather than holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return statsSvc.Run(gctx, hub)
	})
	g.Go(func() error {
		slog.Info("Connect server starting",
			"address", cfg.Server.Addr,
			"auth", cfg.Auth.Secret != "",
			"stats_timezone", cfg.Stats.TimeZone,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
