// GPA insight server
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

	"github.com/ashureev/gpa-insight/internal/api"
	"github.com/ashureev/gpa-insight/internal/config"
	"github.com/ashureev/gpa-insight/internal/gateway"
	"github.com/ashureev/gpa-insight/internal/identity"
	"github.com/ashureev/gpa-insight/internal/insight"
	"github.com/ashureev/gpa-insight/internal/metrics"
	"github.com/ashureev/gpa-insight/internal/middleware"
	"github.com/ashureev/gpa-insight/internal/probe"
	"github.com/ashureev/gpa-insight/internal/ratelimit"
	"github.com/ashureev/gpa-insight/internal/reconcile"
	"github.com/ashureev/gpa-insight/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"gateway_timeout", cfg.Model.Timeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Insight log (optional).
	var repo store.Repository
	if cfg.PersistenceEnabled() {
		sqliteStore, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		repo = sqliteStore
		slog.Info("Database connected", "path", cfg.DBPath)

		store.StartRetentionWorker(ctx, repo, cfg.InsightRetention, store.DefaultRetentionInterval)
	} else {
		slog.Info("Insight log disabled (DB_PATH empty)")
	}

	// Model gateway.
	provider, err := gateway.ParseProvider(cfg.Model.Provider)
	if err != nil {
		slog.Error("Invalid model provider", "error", err)
		os.Exit(1)
	}
	backend, err := gateway.NewBackend(gateway.BackendConfig{
		Provider:        provider,
		APIKey:          cfg.Model.APIKey,
		BaseURL:         cfg.Model.BaseURL,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		os.Exit(1)
	}

	gwOpts := []gateway.Option{gateway.WithLogger(logger)}
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		gwOpts = append(gwOpts, gateway.WithObserver(m))
	}
	gw := gateway.New(backend, gateway.Config{
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout,
	}, gwOpts...)

	// Insight pipeline.
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	})
	service := insight.NewService(gw, reconcile.New(logger))

	insightOpts := []insight.Option{
		insight.WithLogger(logger),
		insight.WithMaxBodyBytes(cfg.MaxRequestBytes),
	}
	if repo != nil {
		insightOpts = append(insightOpts, insight.WithRecorder(repo))
	}
	if m != nil {
		insightOpts = append(insightOpts, insight.WithMetrics(m))
	}
	insightHandler := insight.NewHandler(limiter, service, insightOpts...)

	baseHandler := api.NewHandler(repo)
	healthHandler := api.NewHealthHandler(baseHandler)
	historyHandler := api.NewHistoryHandler(baseHandler, cfg.HistoryToken)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(middleware.Recover)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	insightHandler.RegisterRoutes(r)
	historyHandler.RegisterRoutes(r)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	// Optional gRPC health endpoint.
	if cfg.GRPCHealthAddr != "" {
		var check probe.CheckFunc
		if repo != nil {
			check = repo.Ping
		}
		probeServer, err := probe.Start(probe.Config{Addr: cfg.GRPCHealthAddr, Check: check}, logger)
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
		defer probeServer.Stop()
	}

	// WriteTimeout must outlast the model call so a slow reply is not cut
	// off mid-write.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Model.Timeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server.
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Model.Timeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	insightHandler.Wait()

	slog.Info("Server stopped successfully")
}
