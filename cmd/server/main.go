package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"worldvote/internal/archive"
	"worldvote/internal/config"
	"worldvote/internal/engine"
	"worldvote/internal/messaging"
	"worldvote/internal/metrics"
	"worldvote/internal/platform"
	"worldvote/shared/interfaces"
	sharedLogger "worldvote/shared/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err) // zap еще не создан
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "worldvote-engine",
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("Starting world vote engine", zap.String("env", cfg.Env), zap.String("storeDriver", cfg.StoreDriver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := platform.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open key-value store", zap.Error(err))
	}
	defer closeStore()

	checks := []readinessCheck{{name: "store", check: store.Ping}}

	// --- Архив результатов (необязательно) ---
	var resultArchive interfaces.ResultArchive
	if cfg.ArchiveEnabled {
		pool, err := platform.OpenArchivePool(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to archive database", zap.Error(err))
		}
		defer pool.Close()
		if err := archive.Migrate(pool, logger); err != nil {
			logger.Fatal("Failed to migrate archive database", zap.Error(err))
		}
		a := archive.New(pool, logger)
		resultArchive = a
		checks = append(checks, readinessCheck{name: "archive", check: a.Ping})
	}

	// --- RabbitMQ (необязательно) ---
	var (
		publisher interfaces.ResultPublisher
		consumer  *messaging.CommandConsumer
	)
	if cfg.RabbitMQEnabled {
		conn, err := platform.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()

		p, err := messaging.NewResultPublisher(conn, cfg.ResultsQueue, logger)
		if err != nil {
			logger.Fatal("Failed to create result publisher", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		checks = append(checks, readinessCheck{name: "rabbitmq", check: func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	eng := engine.New(store, engine.OptionsFromConfig(cfg), publisher, resultArchive, m, logger)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	state, err := eng.Initialize(initCtx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize world state", zap.Error(err))
	}
	logger.Info("World state ready", zap.Int64("version", state.Version))

	if cfg.RabbitMQEnabled {
		conn, err := platform.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect command consumer to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()
		consumer = messaging.NewCommandConsumer(conn, messaging.NewCommandProcessor(eng, logger), cfg.CommandsQueue, cfg.ConsumerConcurrency, logger)
		go func() {
			logger.Info("Starting command consumer...")
			if err := consumer.StartConsuming(); err != nil {
				logger.Error("Command consumer stopped with error", zap.Error(err))
			}
			logger.Info("Command consumer goroutine finished")
		}()
	}

	// --- HTTP сервер для health/ready/metrics ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	p := ginprometheus.NewPrometheus("gin")
	router := newRouter(logger, checks, func() any { return eng.CacheStats() }, p.Use)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Ops server listening", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	if consumer != nil {
		consumer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("World vote engine stopped")
}
