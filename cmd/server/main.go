// Tutor item server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/shsh-tutor/internal/api"
	"github.com/ashureev/shsh-tutor/internal/catalog"
	"github.com/ashureev/shsh-tutor/internal/config"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/selection"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"policy", cfg.Selection.Policy,
		"policy_n", cfg.Selection.PolicyN,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence degrades to the noop store when a backend cannot be opened.
	repo := store.New(ctx, store.Config{
		DBPersist:   cfg.Persistence.DBEnabled,
		DBPath:      cfg.Persistence.DBPath,
		DatabaseURL: cfg.Persistence.DatabaseURL,
		FilePersist: cfg.Persistence.FileEnabled,
		StateDir:    cfg.Persistence.StateDir,
	}, logger)
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Persistence ready", "backend", repo.Backend(), "enabled", repo.Enabled())

	m := metrics.New(cfg.MetricsNamespace)

	cat := catalog.New(cfg.CatalogPath, logger)
	if err := cat.Reload(); err != nil {
		slog.Warn("Catalog not loaded, serving an empty catalog", "path", cfg.CatalogPath, "error", err)
	}
	m.SetCatalogSize(cat.Len())

	selector := selection.NewManager(selection.Config{
		RecentWindow:  cfg.Selection.RecentWindow,
		DefaultPolicy: cfg.Selection.Policy,
		Threshold:     cfg.Selection.PolicyN,
		EngineStrict:  cfg.Selection.EngineStrict,
	}, repo, selection.WithMetrics(m), selection.WithLogger(logger))
	defer selector.Close()

	// Initialize handlers.
	issuer := identity.NewIssuer(cfg.SessionCookieName, cfg.IsDevelopment())
	handler := api.NewHandler(selector, cat, repo, issuer, m, logger)
	healthHandler := api.NewHealthHandler(repo, cat, api.PersistenceFlags{
		File: cfg.Persistence.FileEnabled,
		DB:   cfg.Persistence.DBEnabled,
	})

	r := api.NewRouter(handler, healthHandler, m, api.RouterOptions{
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		Frontend:          web.SPAHandler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go reloadCatalogOnHangup(ctx, cat, m)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Deferred calls flush the selection table before the repository closes.
	slog.Info("Server stopped successfully")
}

// reloadCatalogOnHangup re-reads the catalog file on SIGHUP. A failed reload
// keeps serving the previous catalog.
func reloadCatalogOnHangup(ctx context.Context, cat *catalog.Catalog, m *metrics.Metrics) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := cat.Reload(); err != nil {
				slog.Error("Catalog reload failed, keeping previous catalog", "path", cat.Path(), "error", err)
				continue
			}
			m.SetCatalogSize(cat.Len())
		}
	}
}
