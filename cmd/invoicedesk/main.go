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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/invoicedesk/internal/adapter/driven/airtable"
	"github.com/ericfisherdev/invoicedesk/internal/adapter/driven/argon2id"
	"github.com/ericfisherdev/invoicedesk/internal/adapter/driven/jsonfile"
	redisadapter "github.com/ericfisherdev/invoicedesk/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/invoicedesk/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/invoicedesk/internal/adapter/driving/http"
	"github.com/ericfisherdev/invoicedesk/internal/application"
	"github.com/ericfisherdev/invoicedesk/internal/config"
	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"backend", cfg.Backend,
		"store_timeout", cfg.StoreTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the configured credential backend.
	hasher := argon2id.NewHasher(argon2id.DefaultParams)
	store, err := openStore(ctx, cfg, hasher)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing credential store", "error", closeErr)
		}
	}()
	slog.Info("credential store opened", "backend", cfg.Backend)

	// 4. Wire services.
	authSvc := application.NewAuthService(store, hasher, cfg.StoreTimeout, slog.Default())
	healthSvc := application.NewHealthService(store, cfg.Backend)

	// 5. Create HTTP handler with routes and middleware.
	metrics := httphandler.NewMetrics()
	apiHandler := httphandler.NewHandler(authSvc, healthSvc, metrics, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("invoicedesk started", "listen_addr", cfg.ListenAddr, "backend", cfg.Backend)

	// 6. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	// 7. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openStore returns the credential store selected by cfg.Backend. The caller
// owns the returned handle and must Close it.
func openStore(ctx context.Context, cfg *config.Config, hasher driven.PasswordHasher) (driven.CredentialStore, error) {
	switch cfg.Backend {
	case model.StoreBackendFile:
		return jsonfile.Open(cfg.CredentialFile, hasher)

	case model.StoreBackendSQLite:
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("migrations complete", "path", cfg.DBPath)
		return sqliteadapter.NewCredentialRepo(db), nil

	case model.StoreBackendRedis:
		return redisadapter.Dial(ctx, cfg.RedisAddr, cfg.RedisPrefix)

	case model.StoreBackendAirtable:
		return airtable.NewClient(airtable.Config{
			BaseURL: cfg.Airtable.BaseURL,
			APIKey:  cfg.Airtable.APIKey,
			BaseID:  cfg.Airtable.BaseID,
			Table:   cfg.Airtable.Table,
			Rate:    cfg.Airtable.Rate,
			Hasher:  hasher,
			Logger:  slog.Default(),
		})
	}

	return nil, fmt.Errorf("unknown credential backend %q", cfg.Backend)
}
