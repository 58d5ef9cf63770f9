package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/auth"
	"github.com/example/aiscore/internal/blobstore"
	"github.com/example/aiscore/internal/dispatch"
	"github.com/example/aiscore/internal/handlers"
	"github.com/example/aiscore/internal/repository"
	"github.com/example/aiscore/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload and status API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	brokerConn, err := initBroker(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer brokerConn.Close()
	publisher, err := dispatch.NewRabbitPublisher(brokerConn, cfg.Broker)
	if err != nil {
		return err
	}
	defer publisher.Close()

	m, metricsHandler := newMetrics()
	cache := usecase.NewRedisCache(redisClient)
	intake := usecase.NewIntakeUseCase(repo, blobs, publisher, m, cfg.Blob.Prefix, logger)
	query := usecase.NewQueryUseCase(repo, blobs, cache, logger)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	routes := handlers.Routes{
		Intake:       intake,
		Query:        query,
		Metrics:      metricsHandler,
		MaxBodyBytes: cfg.Server.MaxUploadBytes,
		Logger:       logger,
	}
	if cfg.AuthEnabled() {
		routes.Auth = auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	} else {
		logger.Warn("JWT_SECRET not set, API routes are unauthenticated")
	}
	handlers.RegisterRoutes(router, routes)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	logger.Info("aiscore API listening", zap.String("addr", addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}
