// Package main - entry point for the devstore, a local stand-in for the
// production progress store. It speaks the same wire contract the client
// pipeline targets: bearer-authenticated completion writes with idempotent
// upserts, completion listing, corrective removal, and user resolution,
// backed by PostgreSQL. An optional rate-limit simulation rejects every
// Nth write with 429 so the client's backoff path can be exercised
// without a remote backend.
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

	"github.com/joho/godotenv"

	"github.com/lumilearn/progress-sync/config"
	"github.com/lumilearn/progress-sync/internal/infrastructure/persistence/postgres"
	httpserver "github.com/lumilearn/progress-sync/internal/interface/http"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	log := setupLogger(cfg)
	log.Info("starting devstore",
		"env", cfg.App.Environment,
		"address", fmt.Sprintf("%s:%d", cfg.Devstore.Host, cfg.Devstore.Port),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 3. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpserver.DefaultConfig()
	serverConfig.Host = cfg.Devstore.Host
	serverConfig.Port = cfg.Devstore.Port
	serverConfig.ReadTimeout = cfg.Devstore.ReadTimeout
	serverConfig.WriteTimeout = cfg.Devstore.WriteTimeout
	serverConfig.IdleTimeout = cfg.Devstore.IdleTimeout
	serverConfig.AdminKeyHash = cfg.Devstore.AdminKeyHash
	serverConfig.RateLimitEvery = cfg.Devstore.RateLimitEvery
	serverConfig.Logger = log

	handlers := httpserver.NewHandlers(
		postgres.NewRecordStore(dbConn),
		postgres.NewUserStore(dbConn),
		serverConfig,
	)
	server := httpserver.NewServer(serverConfig, handlers)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", serverConfig.Address())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if cfg.Devstore.RateLimitEvery > 0 {
		log.Info("rate limit simulation enabled", "every", cfg.Devstore.RateLimitEvery)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger builds the structured logger from observability settings.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
