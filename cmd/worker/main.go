package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"benchmark-hub/core"
)

func main() {
	cfg := core.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	defer logger.Sync() //nolint:errcheck

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
		logger.Fatal("failed to connect redis", zap.Error(err))
	}

	metrics := core.NewMetrics()
	cache := core.NewCache(core.NewRedisCacheBackend(redisClient, cfg.CachePrefix), cfg.CacheTTL, metrics, logger.Named("cache"))
	catalog := core.NewCatalogService(core.NewPgCatalogRepository(db), cache, logger.Named("catalog"))
	jobs := core.NewPgImportJobRepository(db)
	queue := core.NewRedisQueue(redisClient, core.PendingImportsKey, core.ProcessingImportsKey)
	processor := core.NewImportProcessor(jobs, catalog, metrics, logger.Named("processor"))

	workerID := core.NewWorkerID()
	wlog := logger.With(zap.String("worker_id", workerID))
	state := core.NewHeartbeatState(workerID, cfg.WorkerConcurrency, 5*time.Second, wlog)
	go state.Run(ctx, redisClient)

	worker := core.NewImportWorker(queue, jobs, processor, state, wlog)
	worker.Concurrency = cfg.WorkerConcurrency

	wlog.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("queue", core.PendingImportsKey))
	worker.Run(ctx)
	wlog.Info("worker stopped")
}
