// Package main is the entry point for the subscription entitlement API.
//
// It loads configuration, opens the PostgreSQL pool, wires the quota engine
// services onto the HTTP chassis, starts the background expiry sweeper and
// serves until a shutdown signal arrives.
package main

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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tahye23/servicessms-sub002/internal/api/handlers"
	"github.com/Tahye23/servicessms-sub002/internal/auth"
	"github.com/Tahye23/servicessms-sub002/internal/catalog"
	"github.com/Tahye23/servicessms-sub002/internal/config"
	"github.com/Tahye23/servicessms-sub002/internal/core"
	"github.com/Tahye23/servicessms-sub002/internal/db"
	"github.com/Tahye23/servicessms-sub002/internal/entitlement"
	"github.com/Tahye23/servicessms-sub002/internal/ledger"
	"github.com/Tahye23/servicessms-sub002/internal/migration"
	"github.com/Tahye23/servicessms-sub002/internal/quota"
	"github.com/Tahye23/servicessms-sub002/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("entitlement API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	// Repositories.
	subscriptionRepo := db.NewSubscriptionRepo(pool, logger)
	planRepo := db.NewPlanRepo(pool)
	ledgerRepo := db.NewLedgerRepo(pool)
	migrationRepo := db.NewMigrationRepo(pool)
	auditRepo := db.NewAuditRepo(pool, logger)

	// Domain services.
	plans := catalog.New(planRepo)
	ledgerReader := ledger.NewReader(ledgerRepo, logger)
	evaluator := entitlement.New(cfg.Quota.LowCreditsThreshold, cfg.Quota.NearLimitPercent)
	quotaService := quota.NewService(subscriptionRepo, ledgerReader, plans, auditRepo, evaluator, cfg.Quota, logger)
	migrationService := migration.NewService(migrationRepo, auditRepo, cfg.Quota, logger)

	// Background expiry sweeper.
	sweeper := scheduler.NewExpirySweeper(subscriptionRepo, cfg.Quota, logger)
	go sweeper.Run(ctx)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewTokenResolver(pool, logger)
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{pool: pool})

	if cfg.Metrics.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Metrics.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		srv.Metrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, logger)
	}

	subscriptionHandler := handlers.NewSubscriptionHandler(quotaService, ledgerReader, logger)
	adminHandler := handlers.NewAdminQuotaHandler(quotaService, migrationService, logger)
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		subscriptionHandler.RegisterRoutes,
		adminHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// serveHTTP runs the HTTP server until the context is cancelled or the
// listener fails, then drains in-flight requests within the shutdown timeout.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// dbProbe reports database reachability for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
