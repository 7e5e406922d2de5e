package main

import (
	"context"
	"fmt"

	"worldvote/internal/archive"
	"worldvote/internal/config"
	"worldvote/internal/engine"
	"worldvote/internal/messaging"
	"worldvote/internal/metrics"
	"worldvote/internal/platform"
	"worldvote/shared/interfaces"
	sharedLogger "worldvote/shared/logger"

	"go.uber.org/zap"
)

// deps holds what a command needs. cleanup releases every connection.
type deps struct {
	cfg     *config.Config
	engine  *engine.Engine
	archive *archive.Archive
	logger  *zap.Logger
	cleanup []func()
}

func (d *deps) close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

// withDeps loads configuration, connects to the configured backends and calls fn.
func withDeps(ctx context.Context, fn func(*deps) error) error {
	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	return fn(d)
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:      level,
		Encoding:   "console",
		OutputPath: "stderr",
		Service:    "worldctl",
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	d := &deps{cfg: cfg, logger: logger}
	d.cleanup = append(d.cleanup, func() { _ = logger.Sync() })

	store, closeStore, err := platform.OpenStore(ctx, cfg, logger)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	d.cleanup = append(d.cleanup, func() { _ = closeStore() })

	var resultArchive interfaces.ResultArchive
	if cfg.ArchiveEnabled {
		pool, err := platform.OpenArchivePool(ctx, cfg, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		d.cleanup = append(d.cleanup, pool.Close)
		if err := archive.Migrate(pool, logger); err != nil {
			d.close()
			return nil, fmt.Errorf("migrating archive: %w", err)
		}
		d.archive = archive.New(pool, logger)
		resultArchive = d.archive
	}

	var publisher interfaces.ResultPublisher
	if cfg.RabbitMQEnabled {
		conn, err := platform.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		d.cleanup = append(d.cleanup, func() { _ = conn.Close() })
		p, err := messaging.NewResultPublisher(conn, cfg.ResultsQueue, logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("creating result publisher: %w", err)
		}
		d.cleanup = append(d.cleanup, func() { _ = p.Close() })
		publisher = p
	}

	// Метрики CLI никуда не экспортируются, отдельный реестр
	d.engine = engine.New(store, engine.OptionsFromConfig(cfg), publisher, resultArchive, metrics.New(nil), logger)

	// Как и сервер: создать мир, если его нет, и дописать незавершенную историю.
	if _, err := d.engine.Initialize(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("initializing world: %w", err)
	}
	return d, nil
}
