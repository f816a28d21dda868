package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicecollect/internal/auth"
	"voicecollect/internal/config"
	"voicecollect/internal/database"
	"voicecollect/internal/dropbox"
	"voicecollect/internal/events"
	"voicecollect/internal/metrics"
	"voicecollect/internal/notify"
	"voicecollect/internal/prompts"
	"voicecollect/internal/storage"
	"voicecollect/pkg/cache"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/resilience"
)

const linkCacheCleanup = 10 * time.Minute

// deps holds lazily opened shared connections and their closers
type deps struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

func newDeps(cfg *config.Config) *deps {
	return &deps{cfg: cfg}
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *deps) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if d.pool != nil {
		return d.pool, nil
	}
	if d.cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	pool, err := database.Connect(ctx, d.cfg.Postgres.DSN, d.cfg.Postgres.MigrationsPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	d.pool = pool
	d.closers = append(d.closers, pool.Close)
	return pool, nil
}

func (d *deps) redisClient() (*redis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	client, err := cache.Connect(d.cfg.Redis.Addr, d.cfg.Redis.Password, d.cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis connection established")

	d.redis = client
	d.closers = append(d.closers, func() { client.Close() })
	return client, nil
}

func (d *deps) queue(ctx context.Context) (prompts.Queue, error) {
	switch d.cfg.Queue.Backend {
	case "file":
		return prompts.NewFileQueue(d.cfg.Queue.FilePath), nil
	case "memory":
		return prompts.NewMemoryQueue(), nil
	case "postgres":
		pool, err := d.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return prompts.NewPostgresQueue(pool), nil
	case "redis":
		client, err := d.redisClient()
		if err != nil {
			return nil, err
		}
		return prompts.NewRedisQueue(client, d.cfg.Queue.RedisKey), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", d.cfg.Queue.Backend)
}

// linkCache prefers Redis so links survive restarts and are shared between replicas
func (d *deps) linkCache() cache.Cache {
	if d.cfg.Redis.Addr != "" {
		client, err := d.redisClient()
		if err == nil {
			return cache.NewRedisCacheWithClient(client, d.cfg.Storage.LinkCacheTTL)
		}
		logger.Warn("Redis unavailable, caching links in memory", zap.Error(err))
	}
	c := cache.NewMemoryCache(d.cfg.Storage.LinkCacheTTL, linkCacheCleanup)
	d.closers = append(d.closers, func() { c.Close() })
	return c
}

func (d *deps) gateway(ctx context.Context, m *metrics.Metrics) (*storage.Gateway, error) {
	cfg := d.cfg

	opts := []storage.Option{
		storage.WithRequestTimeout(cfg.Storage.RequestTimeout),
		storage.WithRetry(&resilience.RetryConfig{
			MaxAttempts:     cfg.Storage.RetryAttempts,
			InitialInterval: cfg.Storage.RetryInitial,
			MaxInterval:     cfg.Storage.RetryMax,
			Multiplier:      2.0,
		}),
		storage.WithLinkCache(d.linkCache(), cfg.Storage.LinkCacheTTL),
		storage.WithObserver(m.StorageAttempt),
	}

	var provider storage.Provider
	switch cfg.Storage.Provider {
	case "dropbox":
		refresher := dropbox.NewTokenRefresher(cfg.Dropbox.AppKey, cfg.Dropbox.AppSecret, cfg.Dropbox.RefreshToken)
		tokens := auth.NewManager(refresher,
			auth.WithSafetyMargin(cfg.Dropbox.SafetyMargin),
			auth.WithTimeout(cfg.Storage.RequestTimeout),
			auth.WithObserver(m.TokenRefresh),
		)
		provider = storage.NewDropboxProvider(dropbox.NewClient(tokens))
		opts = append(opts, storage.WithTokenInvalidator(tokens))

	case "s3":
		p, err := storage.NewS3Provider(ctx, storage.S3Options{
			Endpoint:      cfg.S3.Endpoint,
			Region:        cfg.S3.Region,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			Bucket:        cfg.S3.Bucket,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		provider = p

	case "minio":
		p, err := storage.NewMinioProvider(ctx, storage.MinioOptions{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			Bucket:        cfg.Minio.Bucket,
			UseSSL:        cfg.Minio.UseSSL,
			PublicBaseURL: cfg.Minio.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		provider = p

	case "memory":
		provider = storage.NewMemoryProvider("")

	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}

	logger.Info("Storage provider initialized",
		zap.String("provider", provider.Name()),
		zap.String("namespace", cfg.Storage.Namespace))

	return storage.NewGateway(provider, cfg.Storage.Namespace, opts...), nil
}

// publisher is nil when no broker is configured
func (d *deps) publisher() *events.RabbitMQ {
	if d.cfg.RabbitMQ.URL == "" {
		return nil
	}
	mq, err := events.NewRabbitMQ(d.cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("RabbitMQ unavailable, recording events disabled", zap.Error(err))
		return nil
	}
	d.closers = append(d.closers, func() { mq.Close() })
	return mq
}

func (d *deps) notifier() notify.Notifier {
	if d.cfg.Telegram.Token == "" || d.cfg.Telegram.ChatID == 0 {
		return notify.Nop{}
	}
	n, err := notify.NewTelegram(d.cfg.Telegram.Token, d.cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("Telegram notifier unavailable, alerts disabled", zap.Error(err))
		return notify.Nop{}
	}
	return n
}
