// AOI gateway server entry point
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"

	"github.com/geovista/aoi-gateway/internal/api"
	"github.com/geovista/aoi-gateway/internal/config"
	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/metrics"
	"github.com/geovista/aoi-gateway/internal/surface"
	"github.com/geovista/aoi-gateway/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up logger
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting AOI gateway",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
	)

	m := metrics.New()

	// Create upstream indices client
	client := indices.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout).
		WithLogger(logger).
		WithMetrics(m)

	// Create workflow controller
	controller, err := workflow.NewController(client, workflow.Config{
		Viewport: surface.Viewport{
			Center: orb.Point{cfg.Map.CenterLon, cfg.Map.CenterLat},
			Zoom:   cfg.Map.Zoom,
		},
		DefaultCloudCover: cfg.Workflow.DefaultCloudCover,
		CacheSize:         cfg.Workflow.CacheSize,
		CacheTTL:          cfg.Workflow.CacheTTL,
	}, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	// Create session store with expiry cleanup
	store := workflow.NewStore(cfg.Workflow.SessionTTL, cfg.Workflow.CleanupInterval, m)
	defer store.Stop()
	logger.Info("initialized session store",
		"ttl", cfg.Workflow.SessionTTL,
		"cleanup_interval", cfg.Workflow.CleanupInterval,
	)

	handlers := api.NewHandlers(controller, store, logger)
	router := api.NewRouter(handlers, logger, m.Handler())

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
