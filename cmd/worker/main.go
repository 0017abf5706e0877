package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sishengcao/paddleocr-api/config"
	"github.com/sishengcao/paddleocr-api/internal/recognizer"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/storage"
	"github.com/sishengcao/paddleocr-api/pkg/store"
	"github.com/sishengcao/paddleocr-api/pkg/worker"
)

func main() {
	cfg := config.GetAppConfig()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logger.Level),
		logger.WithEncoding(cfg.Logger.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
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

	scanQueue := queue.NewAsynqQueue(&queue.Config{
		RedisAddr:      cfg.Redis.Addr,
		RedisDB:        cfg.Redis.DB,
		MaxRetries:     cfg.Task.MaxRetries,
		ProcessTimeout: cfg.Task.HardTimeLimit,
	})
	defer scanQueue.Close()

	batchService := batch.NewService(taskStore, scanQueue, &batch.Config{
		MaxRetries: cfg.Task.MaxRetries,
		RetryDelay: cfg.Task.RetryDelay,
		LockTTL:    cfg.Task.LockTTL,
	}, log)

	// 识别引擎
	registryCfg := &recognizer.RegistryConfig{Engine: recognizer.Engine(cfg.OCR.Engine)}
	if registryCfg.Engine == recognizer.EngineTextract {
		tc := config.GetTextractConfig()
		registryCfg.TextractConf = &recognizer.TextractConfig{
			Region:        tc.Region,
			AccessKey:     tc.AccessKey,
			SecretKey:     tc.SecretKey,
			MinConfidence: tc.MinConfidence,
		}
	}
	engines, err := recognizer.NewRegistry(registryCfg, log)
	if err != nil {
		log.Error("Failed to create recognizer registry", logger.Error(err))
		os.Exit(1)
	}
	defer engines.Close()

	// 导出文件存储, 供周期清理任务使用
	exports, err := storage.NewStorage(storage.StorageType(cfg.Export.Backend), cfg.Export.Dir, log)
	if err != nil {
		log.Error("Failed to create export storage", logger.Error(err))
		os.Exit(1)
	}

	// 创建 worker
	scanWorker, err := worker.NewScanWorker(&worker.Config{
		RedisAddr:       cfg.Redis.Addr,
		RedisDB:         cfg.Redis.DB,
		Concurrency:     cfg.Task.Concurrency,
		Queues:          worker.DefaultQueues(),
		FileWorkers:     cfg.Task.FileWorkers,
		SoftTimeLimit:   cfg.Task.SoftTimeLimit,
		HardTimeLimit:   cfg.Task.HardTimeLimit,
		ExportRetention: cfg.Export.Retention,
	}, batchService, engines, exports, log)
	if err != nil {
		log.Error("Failed to create scan worker", logger.Error(err))
		os.Exit(1)
	}

	// 周期性触发过期导出清理
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}, nil)
	if _, err := scheduler.Register("@every 24h", asynq.NewTask(queue.TypeExportCleanup, nil), asynq.Queue(queue.QueueLow)); err != nil {
		log.Error("Failed to register export cleanup job", logger.Error(err))
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error("Failed to start scheduler", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scanWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	scheduler.Shutdown()
	scanWorker.Stop()
	log.Info("Worker stopped")
}
