package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/aiscore/internal/config"
	"github.com/example/aiscore/internal/grpcclient"
	"github.com/example/aiscore/internal/inference"
	"github.com/example/aiscore/internal/logging"
	"github.com/example/aiscore/internal/metrics"
)

// loadRuntime reads the configuration and builds the process logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Server.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("bootstrap.open_database", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("bootstrap.database_handle", "", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, logging.NewOperationError("bootstrap.ping_database", "", err)
	}

	logger.Info("database connected")
	return db, nil
}

func closeDatabase(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, logging.NewOperationError("bootstrap.ping_redis", cfg.Addr, err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return client, nil
}

func initBroker(cfg config.BrokerConfig, logger *zap.Logger) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, logging.NewOperationError("bootstrap.dial_broker", cfg.Exchange, err)
	}
	logger.Info("broker connected", zap.String("exchange", cfg.Exchange))
	return conn, nil
}

// initScorer builds the inference client for the configured transport. The
// returned closer is never nil.
func initScorer(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger) (inference.Client, func() error, error) {
	if cfg.Transport == "grpc" {
		client, conn, err := grpcclient.DialScorer(ctx, cfg.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, conn.Close, nil
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return inference.NewHTTPClient(cfg.URL, httpClient, logger), func() error { return nil }, nil
}

// newMetrics registers the pipeline collectors plus the runtime collectors on
// a private registry and returns the handler that exposes them.
func newMetrics() (*metrics.Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
