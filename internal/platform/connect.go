// Package platform opens the external connections both binaries need.
package platform

import (
	"context"
	"fmt"
	"time"

	"worldvote/internal/config"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultMinConns          = 1
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 30 * time.Minute
	defaultHealthCheckPeriod = time.Minute
	connectTimeout           = 5 * time.Second

	maxConnectAttempts = 5
	retryDelay         = 3 * time.Second
)

// OpenStore returns the key-value store selected by STORE_DRIVER and a close func.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.Store, func() error, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory store, state is lost on restart")
		return database.NewMemoryStore(), func() error { return nil }, nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr), zap.Int("attempt", attempt))
			return database.NewRedisStore(client, cfg.StoreOpTimeout, logger), client.Close, nil
		}
		_ = client.Close()
		lastErr = err
		logger.Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxConnectAttempts),
			zap.Error(err),
		)
		if err := sleep(ctx, retryDelay); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, lastErr)
}

// OpenArchivePool connects to the Postgres archive database.
func OpenArchivePool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("parse archive DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = defaultMinConns
	poolCfg.MaxConnLifetime = defaultMaxConnLifetime
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create archive pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	logger.Info("Connected to archive database", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	return pool, nil
}

// ConnectRabbitMQ dials the broker, retrying a few times while it starts up.
func ConnectRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxConnectAttempts),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if err := sleep(ctx, retryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
