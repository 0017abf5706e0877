package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/sishengcao/paddleocr-api/internal/layout"
	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/internal/recognizer"
	"github.com/sishengcao/paddleocr-api/internal/scan"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/storage"
)

// cancelCheckEvery is the file interval between cancel-flag polls.
const cancelCheckEvery = 5

// fileAttempts bounds recognition attempts per file. Exhaustion records the
// file as failed and the task carries on.
const fileAttempts = 3

// EngineResolver routes a file to its recognition engine.
type EngineResolver interface {
	For(path string) (recognizer.Recognizer, error)
}

// ScanWorker consumes batch scan tasks: it fans recognition out over the
// task's files, reconstructs reading order per page and feeds every result
// back through the lifecycle manager. It also serves the periodic export
// cleanup tick.
type ScanWorker struct {
	BaseWorker
	service *batch.Service
	engines EngineResolver
	exports storage.Storage
	cfg     *Config
}

func NewScanWorker(cfg *Config, service *batch.Service, engines EngineResolver, exports storage.Storage, log logger.Logger) (*ScanWorker, error) {
	if cfg.FileWorkers <= 0 {
		cfg.FileWorkers = 4
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultQueues()
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &ScanWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		service: service,
		engines: engines,
		exports: exports,
		cfg:     cfg,
	}

	w.mux.HandleFunc(queue.TypeBatchScan, w.handleBatchScan)
	if exports != nil {
		w.mux.HandleFunc(queue.TypeExportCleanup, w.handleExportCleanup)
	}
	return w, nil
}

// handleExportCleanup drops export artifacts older than the retention
// window. Scheduled periodically by the server's asynq scheduler.
func (w *ScanWorker) handleExportCleanup(ctx context.Context, _ *asynq.Task) error {
	retention := w.cfg.ExportRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	threshold := time.Now().Add(-retention)
	if err := w.exports.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("cleanup exports: %w", err)
	}
	w.logger.Info("Expired exports cleaned",
		logger.Time("threshold", threshold),
	)
	return nil
}

func (w *ScanWorker) handleBatchScan(ctx context.Context, t *asynq.Task) error {
	var st queue.ScanTask
	if err := json.Unmarshal(t.Payload(), &st); err != nil {
		w.logger.Error("Failed to unmarshal scan task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		// 无法解析的任务重试也没有意义
		return nil
	}

	task, err := w.service.MarkProcessing(ctx, st.TaskID)
	if err != nil {
		if errors.Is(err, batch.ErrInvalidState) {
			// 任务已被取消或进入终态, 静默丢弃
			w.logger.Info("Dropping work for finished task",
				logger.String("taskId", st.TaskID),
			)
			return nil
		}
		w.logger.Error("Failed to mark task processing",
			logger.String("taskId", st.TaskID),
			logger.Error(err),
		)
		return err
	}

	w.logger.Info("Processing batch scan task",
		logger.String("taskId", task.TaskID),
		logger.String("bookId", task.BookID),
		logger.Int("totalFiles", task.TotalFiles),
	)

	runCtx := ctx
	var cancel context.CancelFunc
	if w.cfg.SoftTimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.SoftTimeLimit)
		defer cancel()
	}

	if err := w.processTask(runCtx, task); err != nil {
		// 软超时和环境性错误走内部重试, 预算耗尽由 RetryTransient 定为失败
		if _, rerr := w.service.RetryTransient(context.WithoutCancel(ctx), task.TaskID, err); rerr != nil {
			w.logger.Error("Failed to schedule task retry",
				logger.String("taskId", task.TaskID),
				logger.Error(rerr),
			)
		}
		return nil
	}

	if _, err := w.service.Complete(context.WithoutCancel(ctx), task.TaskID); err != nil && !errors.Is(err, batch.ErrInvalidState) {
		w.logger.Error("Failed to finalize task",
			logger.String("taskId", task.TaskID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// processTask runs recognition across all files of the task. Per-file
// failures are recorded as failed pages; only environmental errors (store
// or context) are returned and trigger a task-level retry.
func (w *ScanWorker) processTask(ctx context.Context, task *models.BatchTask) error {
	files, err := scan.Enumerate(task.SourceDirectory, task.Config.Recursive, task.Config.FilePatterns)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", task.SourceDirectory, err)
	}

	// 目录可能在创建后发生变化, 以本次枚举为准
	if len(files) != task.TotalFiles {
		updated, err := w.service.ReconcileTotal(ctx, task.TaskID, len(files))
		if err != nil {
			return fmt.Errorf("reconcile file count for %s: %w", task.TaskID, err)
		}
		task = updated
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.FileWorkers)

	for i, file := range files {
		if gctx.Err() != nil {
			break
		}
		// 周期性检查取消标记
		if i%cancelCheckEvery == 0 {
			current, err := w.service.GetTask(gctx, task.TaskID)
			if err != nil {
				return fmt.Errorf("refresh task %s: %w", task.TaskID, err)
			}
			if current.CancelRequested || current.Status.Terminal() {
				w.logger.Info("Stopping cancelled task",
					logger.String("taskId", task.TaskID),
					logger.Int("dispatched", i),
				)
				break
			}
		}

		file := file
		g.Go(func() error {
			return w.processFile(gctx, task, file)
		})
	}

	return g.Wait()
}

func (w *ScanWorker) processFile(ctx context.Context, task *models.BatchTask, file string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fileName := filepath.Base(file)
	volume, pageNumber := scan.ParseFileName(fileName)

	page := &models.PageResult{
		TaskID:     task.TaskID,
		BookID:     task.BookID,
		FileName:   fileName,
		PageNumber: pageNumber,
		Volume:     volume,
	}

	engine, err := w.engines.For(file)
	if err != nil {
		page.Error = err.Error()
		return w.service.OnFileProcessed(ctx, page)
	}

	var result *recognizer.Result
	for attempt := 1; attempt <= fileAttempts; attempt++ {
		result = engine.Recognize(ctx, file, recognizer.Options{
			Lang:        task.Config.Lang,
			UseAngleCls: task.Config.UseAngleCls,
		})
		page.ProcessingTime += result.Duration.Seconds()
		if result.Success || ctx.Err() != nil {
			break
		}
		if attempt < fileAttempts {
			w.logger.Debug("Retrying file recognition",
				logger.String("file", fileName),
				logger.Int("attempt", attempt),
				logger.String("error", result.Error),
			)
		}
	}

	if !result.Success {
		// 软超时打断的文件不落失败页, 留给任务级重试
		if err := ctx.Err(); err != nil {
			return err
		}
		page.Error = result.Error
		w.logger.Warn("File recognition failed",
			logger.String("taskId", task.TaskID),
			logger.String("file", fileName),
			logger.String("error", result.Error),
		)
		return w.service.OnFileProcessed(ctx, page)
	}

	page.Success = true
	page.Fragments = result.Fragments
	page.RawText = layout.Render(result.Fragments, task.Config.TextLayout, task.Config.OutputFormat)
	page.Confidence = layout.MeanConfidence(result.Fragments)

	return w.service.OnFileProcessed(ctx, page)
}

func (w *ScanWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
