package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"benchmark-hub/core"
)

func main() {
	cfg := core.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck

	if cfg.RunMigrations {
		if err := core.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	defer redisClient.Close()
	if err := core.PingRedis(ctx, redisClient); err != nil {
		logger.Warn("redis unreachable; cache runs pass-through until it recovers", zap.Error(err))
	}

	metrics := core.NewMetrics()
	cache := core.NewCache(core.NewRedisCacheBackend(redisClient, cfg.CachePrefix), cfg.CacheTTL, metrics, logger.Named("cache"))
	hasher := core.NewPasswordHasher(cfg.BcryptCost)
	tokens := core.NewTokenCodec([]byte(cfg.JWTSecret), cfg.TokenTTL)

	userRepo := core.NewPgUserRepository(db)
	authService := core.NewRepositoryAuthService(userRepo, hasher, tokens, cache, metrics, logger.Named("auth"))
	if err := core.BootstrapAdmin(ctx, userRepo, hasher, cfg, logger); err != nil {
		logger.Fatal("bootstrap admin failed", zap.Error(err))
	}

	catalog := core.NewCatalogService(core.NewPgCatalogRepository(db), cache, logger.Named("catalog"))
	queue := core.NewRedisQueue(redisClient, core.PendingImportsKey, core.ProcessingImportsKey)
	imports := core.NewImportService(core.NewPgImportJobRepository(db), queue, logger.Named("imports"))

	router := core.NewRouter(core.Deps{
		Config:  cfg,
		Log:     logger,
		Auth:    authService,
		Users:   userRepo,
		Catalog: catalog,
		Imports: imports,
		Queue:   core.NewQueueInspector(redisClient, core.PendingImportsKey, core.ProcessingImportsKey),
		Metrics: metrics,
		Checks: map[string]core.DependencyCheck{
			"database": db.Ping,
			"redis":    func(ctx context.Context) error { return core.PingRedis(ctx, redisClient) },
		},
		StartedAt: time.Now(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("starting api server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api server stopped")
}
