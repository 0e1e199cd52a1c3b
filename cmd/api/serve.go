package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"dochub/api/internal/app"
	"dochub/api/internal/archive"
	"dochub/api/internal/auth"
	"dochub/api/internal/config"
	"dochub/api/internal/gitmirror"
	"dochub/api/internal/idempotency"
	"dochub/api/internal/logging"
	"dochub/api/internal/metrics"
	"dochub/api/internal/publish"
	"dochub/api/internal/rbac"
	"dochub/api/internal/search"
	"dochub/api/internal/store"
)

// backend is what both store implementations offer: the service surface plus
// the listing used by search.
type backend interface {
	app.DataStore
	ListAllDocuments(ctx context.Context) ([]store.Document, error)
	SearchDocuments(ctx context.Context, repoID, query string, limit int) ([]store.Document, error)
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func poolOptions(cfg config.Config) store.PoolOptions {
	return store.PoolOptions{
		MaxOpenConns:    cfg.DBPool.MaxOpenConns,
		MaxIdleConns:    cfg.DBPool.MaxIdleConns,
		ConnMaxLifetime: cfg.DBPool.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBPool.ConnMaxIdleTime,
	}
}

// openBackend connects the configured store, applying migrations for
// postgres. The returned func releases it.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, store.Migrations())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	if applied > 0 {
		logger.Info("applied migrations", "count", applied)
	}
	return store.NewPostgresStore(db), func() { db.Close() }, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.DriverPostgres)
	}
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	applied, err := store.ApplyMigrations(cmd.Context(), db, store.Migrations())
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations complete", "applied", applied)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	username, _ := cmd.Flags().GetString("username")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Identity{
		ID:       args[0],
		Username: username,
		Role:     string(rbac.Normalize(role)),
	}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(registry)

	var sinks []publish.Sink
	if dir := strings.TrimSpace(cfg.MirrorDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create mirror dir: %w", err)
		}
		sinks = append(sinks, gitmirror.New(dir))
		logger.Info("git mirror enabled", "dir", dir)
	}
	if strings.TrimSpace(cfg.MinIO.Endpoint) != "" {
		arc, err := archive.New(archive.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("archive setup failed: %w", err)
		}
		sinks = append(sinks, arc)
		logger.Info("version archive enabled", "endpoint", cfg.MinIO.Endpoint, "bucket", cfg.MinIO.Bucket)
	}

	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, data, logger)
		sinks = append(sinks, searchService)
	} else {
		logger.Info("no search server configured, search uses the document store")
		searchService = search.NewService(nil, data, logger)
	}

	publisher := publish.New(cfg.PublishTimeout, logger, sinks...)
	service := app.New(data, app.Options{
		StoreTimeout: cfg.StoreTimeout,
		Publisher:    publisher,
		Logger:       logger,
	})

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		go func() {
			n, err := searchService.Reindex(context.Background())
			if err != nil {
				logger.Warn("initial reindex failed", "error", err)
				return
			}
			logger.Info("initial reindex complete", "documents", n)
		}()
		if spec := strings.TrimSpace(cfg.ReindexCron); spec != "" {
			scheduler, err := searchService.Schedule(spec)
			if err != nil {
				return err
			}
			defer scheduler.Stop()
		}
	}

	opts := app.HTTPOptions{
		CORSOrigin:     cfg.CORSOrigin,
		Tokens:         auth.NewVerifier(cfg.JWTSecret),
		Search:         searchService,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		idem, err := idempotency.NewRedisStore(cfg.RedisURL, cfg.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer idem.Close()
		opts.Idempotency = idem
		opts.Readiness = append(opts.Readiness, app.ReadinessCheck{Name: "redis", Check: idem.Ping})
		logger.Info("idempotency keys stored in redis")
	} else {
		logger.Info("REDIS_URL not set, Idempotency-Key headers are ignored")
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := app.NewHTTPServer(service, opts)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dochub API listening", "addr", cfg.Addr, "store", cfg.StoreDriver, "sinks", publisher.Sinks())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		publisher.Close()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	publisher.Close()
	return nil
}
