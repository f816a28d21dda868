package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"voicecollect/internal/config"
	"voicecollect/internal/database"
	"voicecollect/internal/events"
	"voicecollect/internal/ledger"
	"voicecollect/internal/worker"
	"voicecollect/pkg/cache"
	"voicecollect/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	err = logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting voicecollect ledger worker")

	if cfg.Postgres.DSN == "" {
		logger.Fatal("POSTGRES_DSN environment variable is required")
		return
	}
	if cfg.RabbitMQ.URL == "" {
		logger.Fatal("RABBITMQ_URL environment variable is required")
		return
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MigrationsPath)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
		return
	}
	defer pool.Close()

	logger.Info("Database connection established")

	var seen cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 0)
		if err != nil {
			logger.Error("Redis unavailable, event deduplication disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			seen = redisCache
			logger.Info("Redis cache connection established")
		}
	}

	rabbitMQ, err := events.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	defer rabbitMQ.Close()

	processor := worker.NewProcessor(ledger.NewPostgres(pool), seen)

	logger.Info("Starting to consume recording events")
	err = rabbitMQ.Consume(ctx, events.QueueNameRecordings, processor.ProcessEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failed to consume messages", zap.Error(err))
	}

	logger.Info("Worker service shutdown complete")
}
