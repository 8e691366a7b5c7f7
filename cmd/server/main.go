// Support identity and ticket server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/shsh-support/internal/api"
	"github.com/ashureev/shsh-support/internal/config"
	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/helpdesk"
	"github.com/ashureev/shsh-support/internal/identity"
	"github.com/ashureev/shsh-support/internal/logging"
	"github.com/ashureev/shsh-support/internal/middleware"
	"github.com/ashureev/shsh-support/internal/store"
	"github.com/ashureev/shsh-support/internal/support"
	"github.com/ashureev/shsh-support/web"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, deviceLogs := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", cfg.Log.AppVersion)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	collector := &diagnostics.Collector{
		AppVersion: cfg.Log.AppVersion,
		DataDir:    filepath.Dir(cfg.DBPath),
		Network: diagnostics.StaticNetwork{
			NetworkType: cfg.Network.Type,
			CarrierName: cfg.Network.Carrier,
			CountryISO:  cfg.Network.CountryCode,
		},
		Logs: deviceLogs,
	}

	submitter := helpdesk.NewHTTPSubmitter(logger, cfg.Helpdesk.URL, cfg.Helpdesk.OAuthClientID, cfg.Helpdesk.Timeout)
	hd := helpdesk.NewClient(submitter, repo, collector, helpdesk.OutboxPolicy{
		Interval:    cfg.Outbox.Interval,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseBackoff: cfg.Outbox.BaseBackoff,
		BatchSize:   cfg.Outbox.BatchSize,
		Lease:       cfg.Outbox.Lease,
	}, logger)
	if err := hd.Setup(helpdesk.Settings{
		URL:           cfg.Helpdesk.URL,
		ApplicationID: cfg.Helpdesk.ApplicationID,
		OAuthClientID: cfg.Helpdesk.OAuthClientID,
		DeviceLocale:  cfg.Helpdesk.DeviceLocale,
		Fields:        cfg.Helpdesk.Fields,
	}); err != nil {
		slog.Error("Failed to set up help desk", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, hd, support.NewDialogRegistry(), cfg.DialogTTL, logger)
	supportHandler := api.NewSupportHandler(baseHandler)
	healthHandler := api.NewHealthHandler(baseHandler)
	wsHandler := api.NewDialogSocketHandler(baseHandler, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	healthHandler.RegisterRoutes(r)

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		supportHandler.RegisterRoutes(r)
		wsHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket dialogs stay open while the user types
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start outbox worker.
	if hd.Enabled() {
		helpdesk.StartOutboxWorker(ctx, hd, repo)
	} else {
		slog.Info("Help desk disabled (HELPDESK_URL, HELPDESK_APP_ID or HELPDESK_OAUTH_CLIENT_ID not set)")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
