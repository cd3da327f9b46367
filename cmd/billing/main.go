package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	cfg "github.com/repolens/billing/config"
	"github.com/repolens/billing/internal/auth"
	"github.com/repolens/billing/internal/handlers"
	"github.com/repolens/billing/internal/usecases"
	repository "github.com/repolens/billing/internal/usecases/repository"
	"github.com/repolens/billing/internal/workers"
	"github.com/repolens/billing/pkg/database"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting application with configuration",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"server_port", config.HTTP.Port)

	// The webhook and auth secrets are configuration faults when absent:
	// refuse to serve rather than accept unverifiable callbacks.
	verifier, err := usecases.NewSignatureVerifier(config.Gateway.WebhookSecret)
	if err != nil {
		logger.Error("Gateway configuration invalid", "error", err)
		log.Fatal(err)
	}

	tokens, err := auth.NewTokenVerifier(config.Auth.JWTSecret)
	if err != nil {
		logger.Error("Auth configuration invalid", "error", err)
		log.Fatal(err)
	}

	// Resolve migrations directory
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("postgres connection failed", slog.String("error", err.Error()))
		return
	}
	defer pg.Close()

	// Run database migrations
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}

	// Create repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	entitlementsRepository := repository.NewEntitlementsRepository(logger, pg)

	// Create services
	verificationService := usecases.NewVerificationService(logger, verifier, ordersRepository, entitlementsRepository)
	entitlementService := usecases.NewEntitlementService(entitlementsRepository)

	// Start the reconciler worker
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := workers.NewEntitlementReconciler(
		logger,
		verificationService,
		time.Duration(config.Workers.ReconcileInterval)*time.Minute,
	)

	go func() {
		logger.Info("Starting entitlement reconciler worker")
		reconciler.Start(ctx)
	}()

	// Create handlers and router
	httpHandler := handlers.NewHTTPHandler(logger, tokens, verificationService, entitlementService)

	router := mux.NewRouter()
	httpHandler.RegisterRoutes(router)

	// Configure CORS. Browser clients call the verification endpoint straight
	// from the checkout page, so preflights must pass.
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Client-Info", "Apikey"},
	})

	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}
