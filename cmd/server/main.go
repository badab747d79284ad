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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"menuboard/internal/authflow"
	"menuboard/internal/clientctx"
	"menuboard/internal/config"
	"menuboard/internal/database"
	"menuboard/internal/handler"
	"menuboard/internal/identity"
	"menuboard/internal/jwtauth"
	"menuboard/internal/kvstore"
	"menuboard/internal/logger"
	"menuboard/internal/middleware"
	"menuboard/internal/tenant"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "menuboard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.Open(ctx, cfg.Database.URL, database.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()
	log.Info("database connection established")

	// Run migrations
	migrationsPath := database.ResolveMigrationsPath(cfg.Database.MigrationsPath)
	if err := db.MigrateUp(migrationsPath); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, err := db.MigrateVersion(migrationsPath)
	switch {
	case err != nil:
		log.Warn("failed to get migration version", "error", err)
	case dirty:
		log.Warn("database is in dirty state, manual intervention is required", "version", version)
	default:
		log.Info("database migrations complete", "version", version)
	}

	kv, err := kvstore.NewRedis(cfg.Redis.URL, cfg.Redis.ContextTTL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error("error closing redis connection", "error", err)
		}
	}()

	kratos := identity.NewKratos(cfg.Kratos.PublicURL, cfg.Kratos.Timeout, log)
	tenants := tenant.NewManager(tenant.NewDatastore(db.DB))

	signer, err := jwtauth.NewSigner(cfg.SigningKey, cfg.Redis.ContextTTL)
	if err != nil {
		return fmt.Errorf("create context signer: %w", err)
	}

	var sealer *kvstore.Sealer
	if len(cfg.EncryptionKey) > 0 {
		if sealer, err = kvstore.NewSealer(cfg.EncryptionKey); err != nil {
			return fmt.Errorf("create context sealer: %w", err)
		}
	} else {
		log.Warn("CONTEXT_ENCRYPTION_KEY not set, session tokens are stored unencrypted")
	}

	registry := clientctx.NewRegistry(clientctx.Config{
		Backend:   kratos,
		Store:     kv,
		Directory: tenants,
		Flow: authflow.Config{
			SiteURL:        cfg.SiteURL,
			ResendCooldown: cfg.Bootstrap.ResendCooldown,
		},
		Debounce: cfg.Bootstrap.AvailabilityDebounce,
		Size:     cfg.Bootstrap.ContextCacheSize,
		TTL:      cfg.Redis.ContextTTL,
		Sealer:   sealer,
	}, log)
	defer registry.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Config:        cfg,
		ClientContext: middleware.ClientContext(registry, signer, cfg.Environment != "development", log),
		Tenants:       tenants,
		Health: map[string]handler.HealthFunc{
			"database": db.Health,
			"redis":    kv.Ping,
			"kratos":   kratos.Health,
		},
		Logger: log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(middleware.Metrics(mux), "menuboard"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("menuboard server starting", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down, waiting for in-flight requests to complete")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed, forcing shutdown", "error", err)
			return server.Close()
		}
		log.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}
