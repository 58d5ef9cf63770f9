package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/aiscore/internal/blobstore"
	"github.com/example/aiscore/internal/dispatch"
	"github.com/example/aiscore/internal/repository"
	"github.com/example/aiscore/internal/usecase"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume blob notifications and score the referenced images",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)
	repo := repository.NewJobRepository(db, logger)

	redisClient, err := initRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	blobs, err := blobstore.New(cfg.Blob, logger)
	if err != nil {
		return err
	}

	scorer, closeScorer, err := initScorer(ctx, cfg.Inference, logger)
	if err != nil {
		return err
	}
	defer closeScorer() //nolint:errcheck

	m, metricsHandler := newMetrics()
	compute := usecase.NewComputeUseCase(repo, blobs, scorer, usecase.NewRedisCache(redisClient), m, usecase.ComputeOptions{
		Prefix:           cfg.Blob.Prefix,
		ModelVersion:     cfg.Inference.ModelVersion,
		InferenceTimeout: cfg.Inference.Timeout,
		RetryBudget:      cfg.Worker.RetryBudget,
		AllowReprocess:   cfg.Worker.AllowReprocess,
	}, logger)

	brokerConn, err := initBroker(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer brokerConn.Close()
	consumer, err := dispatch.NewConsumer(brokerConn, cfg.Broker, compute, m, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", zap.String("addr", cfg.Worker.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("compute worker started", zap.String("queue", cfg.Broker.Queue), zap.String("transport", cfg.Inference.Transport))
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return err
	}
	logger.Info("worker stopped")
	return nil
}
