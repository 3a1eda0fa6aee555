package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"erp-pricing-api/internal/cache"
	"erp-pricing-api/internal/config"
	"erp-pricing-api/internal/handler"
	"erp-pricing-api/internal/importer"
	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/metrics"
	"erp-pricing-api/internal/middleware"
	"erp-pricing-api/internal/repository"
	"erp-pricing-api/internal/router"
	"erp-pricing-api/internal/service"
	"erp-pricing-api/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pricing API",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	store, err := openStore(cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("type", cfg.Store.Type), zap.Error(err))
	}
	defer store.Close()

	c, cacheType := openCache(cfg.Cache)
	defer c.Close()

	// The pool's service context outlives requests; Shutdown cancels it.
	pool, err := worker.NewPool(context.Background(), "commit", cfg.Worker.CommitPoolSize)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}

	// Initialize services
	uploadService := service.NewUploadService(importer.NewParser(cfg.Upload.MaxFileSize), store, store)
	reviewService := service.NewReviewService(store)
	commitService := service.NewCommitService(store, pool)
	monitorService := service.NewMonitorService(store, c, cfg.Monitor.PollInterval)
	itemService := service.NewItemService(store)

	if cfg.Worker.RecoverOnStart {
		n, err := commitService.RecoverInterrupted(context.Background())
		if err != nil {
			logger.Error("failed to recover interrupted operations", zap.Error(err))
		} else if n > 0 {
			logger.Warn("interrupted operations marked failed", zap.Int("count", n))
		}
	}

	var locker cache.Locker
	if l, ok := c.(cache.Locker); ok {
		locker = l
	}
	poller := service.NewMonitorPoller(monitorService, locker, service.PollerConfig{
		Interval: cfg.Monitor.PollInterval,
	})
	poller.Start()

	// Initialize handlers
	var cachePinger handler.Pinger
	if p, ok := c.(handler.Pinger); ok {
		cachePinger = p
	}
	healthHandler := handler.New(cfg.App.Name, cfg.App.Version, store, cachePinger)

	r := router.New(router.Config{
		Handler:          healthHandler,
		PricingHandler:   handler.NewPricingHandler(uploadService, reviewService, commitService),
		OperationHandler: handler.NewOperationHandler(monitorService, commitService),
		ItemHandler:      handler.NewItemHandler(itemService),
		AdminHandler:     handler.NewAdminHandler(store, pool, cacheType),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			APIKeys: cfg.App.Keys(),
		}),
		MetricsHandler: metrics.Handler(),
	})
	if len(cfg.App.Keys()) == 0 {
		logger.Warn("API_KEYS is empty, requests are not authenticated")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first so no new commits are scheduled.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	poller.Stop()

	// Running commits see a cancelled context, mark their operation FAILED
	// and can be retried after restart.
	pool.Shutdown(cfg.Server.ShutdownTimeout)

	logger.Info("server stopped")
}

func openStore(cfg config.StoreConfig) (*repository.SQLStore, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	switch cfg.Type {
	case "postgres", "postgresql":
		return repository.NewPostgresStore(cfg.PostgresDSN(), pool)
	case "mysql":
		return repository.NewMySQLStore(cfg.MySQLDSN(), pool)
	default:
		return repository.NewSQLiteStore(cfg.Path)
	}
}

// openCache falls back to the in-process cache when Redis is unreachable.
func openCache(cfg config.CacheConfig) (cache.Cache, string) {
	if cfg.Type == "redis" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddress(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			return rc, "redis"
		}
		logger.Warn("redis unavailable, using in-memory cache", zap.String("addr", cfg.RedisAddress()), zap.Error(err))
	}
	return cache.NewMemoryCache(cfg.TTL), "memory"
}
