package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/sishengcao/paddleocr-api/api/handlers"
	"github.com/sishengcao/paddleocr-api/api/routes"
	"github.com/sishengcao/paddleocr-api/config"
	"github.com/sishengcao/paddleocr-api/internal/genealogy"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/storage"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

func main() {
	cfg := config.GetAppConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logger.Level),
		logger.WithEncoding(cfg.Logger.Encoding),
		logger.WithOutputPaths(cfg.Logger.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 持久化层
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to redis", logger.Error(err))
	}
	taskStore := store.NewRedisStore(redisClient)

	// 执行底座
	scanQueue := queue.NewAsynqQueue(&queue.Config{
		RedisAddr:      cfg.Redis.Addr,
		RedisDB:        cfg.Redis.DB,
		MaxRetries:     cfg.Task.MaxRetries,
		ProcessTimeout: cfg.Task.HardTimeLimit,
	})
	defer scanQueue.Close()

	// 业务服务
	batchService := batch.NewService(taskStore, scanQueue, &batch.Config{
		MaxRetries: cfg.Task.MaxRetries,
		RetryDelay: cfg.Task.RetryDelay,
		LockTTL:    cfg.Task.LockTTL,
	}, log)

	exportBackend, err := storage.NewStorage(storage.StorageType(cfg.Export.Backend), cfg.Export.Dir, log)
	if err != nil {
		log.Fatal("Failed to create export storage", logger.Error(err))
	}
	exporter := batch.NewExporter(taskStore, exportBackend, log)
	miner := genealogy.NewMiner(taskStore, log)

	// init handlers
	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandlers(batchService, exporter, miner, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
