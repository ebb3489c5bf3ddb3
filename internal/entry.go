// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mediacat/internal/api"
	"github.com/starford/mediacat/internal/library"
	"github.com/starford/mediacat/internal/mcpserver"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/sse"
)

// Version is reported by the MCP server.
var Version = "dev"

func (a *application) setup() (*slog.Logger, error) {
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	out := a.logOutput
	if out == nil {
		out = os.Stdout
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	metrics.Register()
	return logger, nil
}

func newApplication(opts []Option) *application {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// openLibrary assembles the catalog and runs the initial scan. Scan
// failures are logged; the catalog serves whatever was reconciled.
func openLibrary(ctx context.Context, cfg *Config, logger *slog.Logger) (*library.Service, error) {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("registry_backend", cfg.Registry.Backend),
		slog.Int("mounts", len(cfg.Mounts)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := library.Open(ctx, cfg.Library(), logger)
	if err != nil {
		return nil, fmt.Errorf("init library: %w", err)
	}

	start := time.Now()
	if err := svc.ScanAll(ctx); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}
	logger.Info("Initial scan finished",
		slog.Duration("took", time.Since(start)),
		slog.Uint64("system_update_id", svc.SystemUpdateID()))
	return svc, nil
}

// Scan assembles the catalog, scans every repository once and returns.
// With a persistent registry backend this pre-populates the store.
func Scan(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	logger, err := app.setup()
	if err != nil {
		return err
	}
	svc, err := library.Open(ctx, app.config.Library(), logger)
	if err != nil {
		return fmt.Errorf("init library: %w", err)
	}
	defer svc.Close()
	return svc.ScanAll(ctx)
}

// ServeMCP assembles and scans the catalog, then serves the MCP tools on
// stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	logger, err := app.setup()
	if err != nil {
		return err
	}
	svc, err := openLibrary(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if app.config.Watch.Enabled {
		go func() { _ = svc.Watch(watchCtx, app.config.Watch.Debounce) }()
	}
	return mcpserver.New(svc, Version).ServeStdio()
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	logger, err := app.setup()
	if err != nil {
		return err
	}
	cfg := app.config

	svc, err := openLibrary(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// SSE broker fed by node updates.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	unsubscribe := svc.Subscribe("sse", func(ev pipeline.UpdateEvent) {
		broker.PublishUpdate(sse.NodeUpdate{
			ID:       ev.ID.String(),
			UpdateID: ev.UpdateID,
			Fields:   ev.Fields,
		}, svc.SystemUpdateID())
	})
	defer unsubscribe()

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Mount API routes under /api; SSE lives inside the auth group.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	r.Mount("/content", api.NewContentRouter(svc))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Rescan repositories when their sources change.
	if cfg.Watch.Enabled {
		g.Go(func() error {
			return svc.Watch(gCtx, cfg.Watch.Debounce)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE streams never finish on their own.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the run group so that watchers stop with the server.
var errShutdown = errors.New("shutdown")
