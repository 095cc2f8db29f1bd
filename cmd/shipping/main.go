package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	adapthttp "github.com/Tabares32/shipping-backend/internal/adapter/http"
	"github.com/Tabares32/shipping-backend/internal/adapter/filestore"
	"github.com/Tabares32/shipping-backend/internal/adapter/memory"
	"github.com/Tabares32/shipping-backend/internal/adapter/postgres"
	"github.com/Tabares32/shipping-backend/internal/adapter/sqlite"
	"github.com/Tabares32/shipping-backend/internal/adapter/ws"
	"github.com/Tabares32/shipping-backend/internal/app"
	"github.com/Tabares32/shipping-backend/internal/auth"
	"github.com/Tabares32/shipping-backend/internal/config"
	"github.com/Tabares32/shipping-backend/internal/domain"
	"github.com/Tabares32/shipping-backend/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shipping: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	hub := ws.NewHub(ws.DefaultBufferSize, log.With("component", "hub"))
	defer hub.Close()
	metrics := adapthttp.NewMetrics(hub.Subscribers)
	notifier := metrics.Notifier(hub)

	passwords := app.NewPasswordChecker(cfg.LegacyPlaintextPasswords, bcrypt.DefaultCost)
	authSvc := app.NewAuthService(
		app.NewUserDirectory(store),
		auth.NewCodec([]byte(cfg.AppSecret)),
		passwords,
		app.AuthOptions{
			TokenTTL:      cfg.TokenTTL,
			OpenSignup:    cfg.OpenSignup,
			AutoProvision: cfg.OIDC.AutoProvision,
		},
		log.With("component", "auth"),
	)
	syncSvc := app.NewSyncService(store, notifier, cfg.Sync.AllowEmpty, log.With("component", "sync")).
		WithPasswords(passwords)
	storageSvc := app.NewStorageService(store, notifier)

	created, err := authSvc.SeedAdmin(ctx, cfg.SeedAdmin.Username, cfg.SeedAdmin.Password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Info(ctx, "seeded admin account", "username", cfg.SeedAdmin.Username)
	}

	warnPosture(ctx, cfg, log)

	oidcCfg, err := adapthttp.NewOIDC(ctx, cfg.OIDC)
	if err != nil {
		return err
	}

	srv := adapthttp.New(authSvc, syncSvc, storageSvc, hub, metrics, adapthttp.Options{
		CORSOrigins:         cfg.CORSOrigins,
		StorageRequiresAuth: cfg.StorageRequiresAuth,
		OIDC:                oidcCfg,
	}, log.With("component", "http"))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	// Close WebSocket subscribers first; Shutdown does not wait for hijacked
	// connections.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

func openStore(ctx context.Context, cfg *config.Config, log logging.Logger) (domain.Store, error) {
	storeLog := log.With("component", "store", "backend", cfg.Storage)
	switch cfg.Storage {
	case config.StorageFile:
		return filestore.Open(cfg.DataDir, storeLog)
	case config.StorageSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath, storeLog)
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, storeLog)
	case config.StorageMemory:
		storeLog.Warn(ctx, "in-memory storage: data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func warnPosture(ctx context.Context, cfg *config.Config, log logging.Logger) {
	if cfg.SecretGenerated {
		log.Warn(ctx, "using an ephemeral token secret; tokens will not survive a restart")
	}
	if cfg.LegacyPlaintextPasswords {
		log.Warn(ctx, "legacy plaintext password comparison is enabled")
	}
	if cfg.OpenSignup {
		log.Warn(ctx, "open signup is enabled; anyone can create accounts")
	}
	if !cfg.StorageRequiresAuth {
		log.Info(ctx, "key/value storage is open to unauthenticated clients")
	}
}
