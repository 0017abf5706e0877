// Package batch owns the task lifecycle: creation with duplicate
// suppression, submission to the execution substrate, progress accounting,
// retries, cancellation and cleanup. All state transitions go through the
// store's atomic read-modify-write so concurrent workers never lose updates.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/sishengcao/paddleocr-api/internal/dedup"
	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/internal/scan"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

var (
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("operation not allowed in current task state")
)

// DuplicateTaskError rejects a creation whose fingerprint is already owned
// by a live task. It carries enough of the existing task for the caller to
// point the user at it.
type DuplicateTaskError struct {
	TaskID   string
	Status   models.TaskStatus
	Progress float64
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task: %s already %s (%.1f%%)", e.TaskID, e.Status, e.Progress)
}

// CreateRequest 创建批量扫描任务的请求
type CreateRequest struct {
	BookID    string
	TaskName  string
	Directory string
	Priority  int
	Config    models.ScanConfig
}

// Config 生命周期参数
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	LockTTL    time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		RetryDelay: 60 * time.Second,
		LockTTL:    time.Hour,
	}
}

// Service 批量任务生命周期管理器
type Service struct {
	store    store.Store
	queue    queue.Queue
	detector *dedup.Detector
	cfg      *Config
	logger   logger.Logger
}

func NewService(s store.Store, q queue.Queue, cfg *Config, log logger.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		store:    s,
		queue:    q,
		detector: dedup.NewDetector(s),
		cfg:      cfg,
		logger:   log.Named("batch"),
	}
}

// Create validates the directory, suppresses duplicates and persists a new
// pending task. Nothing is enqueued yet; Submit does that.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.BatchTask, error) {
	cfg := req.Config.Normalized()
	hash := dedup.Fingerprint(req.Directory, cfg)

	existing, err := s.detector.FindActiveDuplicate(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Warn("duplicate task rejected",
			logger.String("existingTaskId", existing.TaskID),
			logger.String("directory", req.Directory),
		)
		return nil, &DuplicateTaskError{
			TaskID:   existing.TaskID,
			Status:   existing.Status,
			Progress: existing.Progress,
		}
	}

	// 目录不存在时不落库
	files, err := scan.Enumerate(req.Directory, cfg.Recursive, cfg.FilePatterns)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task := &models.BatchTask{
		TaskID:          uuid.New().String(),
		BookID:          req.BookID,
		TaskName:        req.TaskName,
		SourceDirectory: req.Directory,
		Config:          cfg,
		Status:          models.StatusPending,
		Priority:        req.Priority,
		TotalFiles:      len(files),
		MaxRetries:      s.cfg.MaxRetries,
		CreatedAt:       now,
		TaskHash:        hash,
	}

	// 锁是并发 create 竞争的最终仲裁者
	lock := &models.TaskLock{
		LockKey:   hash,
		TaskID:    task.TaskID,
		BookID:    task.BookID,
		Status:    models.LockActive,
		LockedAt:  now,
		ExpiresAt: now.Add(s.cfg.LockTTL),
	}
	if err := s.store.AcquireLock(ctx, lock); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			dup := &DuplicateTaskError{}
			if winner, ferr := s.detector.FindActiveDuplicate(ctx, hash); ferr == nil && winner != nil {
				dup.TaskID = winner.TaskID
				dup.Status = winner.Status
				dup.Progress = winner.Progress
			}
			return nil, dup
		}
		return nil, fmt.Errorf("acquire task lock: %w", err)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.releaseLock(ctx, task)
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("batch task created",
		logger.String("taskId", task.TaskID),
		logger.String("bookId", task.BookID),
		logger.Int("totalFiles", task.TotalFiles),
	)
	return task, nil
}

// Submit hands a pending task to the queue and records the handle.
func (s *Service) Submit(ctx context.Context, taskID string) (*models.BatchTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: submit requires pending, task is %s", ErrInvalidState, task.Status)
	}

	handle, err := s.queue.Enqueue(ctx, &queue.ScanTask{
		TaskID:    task.TaskID,
		BookID:    task.BookID,
		Priority:  task.Priority,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", taskID, err)
	}

	updated, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		if t.Status != models.StatusPending {
			return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
		}
		now := time.Now()
		t.Status = models.StatusQueued
		t.QueueTaskID = handle
		t.QueuedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch task queued",
		logger.String("taskId", taskID),
		logger.String("queueTaskId", handle),
	)
	return updated, nil
}

// ReconcileTotal aligns the file count with the worker's own enumeration
// before processing starts; the directory may have changed since creation
// and progress must stay within 0-100.
func (s *Service) ReconcileTotal(ctx context.Context, taskID string, total int) (*models.BatchTask, error) {
	return s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
		}
		if t.TotalFiles == total {
			return nil
		}
		t.TotalFiles = total
		if total > 0 {
			t.Progress = float64(t.ProcessedFiles) / float64(total) * 100
		} else {
			t.Progress = 0
		}
		return nil
	})
}

// MarkProcessing flips a queued task to processing when the worker picks it
// up. Called once per execution attempt; a retrying task re-enters here too.
func (s *Service) MarkProcessing(ctx context.Context, taskID string) (*models.BatchTask, error) {
	return s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
		}
		if t.Status != models.StatusProcessing {
			now := time.Now()
			t.Status = models.StatusProcessing
			if t.StartedAt == nil {
				t.StartedAt = &now
			}
		}
		return nil
	})
}

// OnFileProcessed records one file's result and advances the counters.
// A repeated callback for the same file is a no-op; counters only ever move
// forward.
func (s *Service) OnFileProcessed(ctx context.Context, page *models.PageResult) error {
	if page.PageID == "" {
		page.PageID = uuid.New().String()
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now()
	}

	if err := s.store.CreatePage(ctx, page); err != nil {
		if errors.Is(err, store.ErrPageExists) {
			s.logger.Debug("page result already recorded",
				logger.String("taskId", page.TaskID),
				logger.String("fileName", page.FileName),
			)
			return nil
		}
		return fmt.Errorf("record page result: %w", err)
	}

	_, err := s.store.UpdateTask(ctx, page.TaskID, func(t *models.BatchTask) error {
		t.ProcessedFiles++
		if page.Success {
			t.SuccessFiles++
		} else {
			t.FailedFiles++
		}
		if t.TotalFiles > 0 {
			t.Progress = float64(t.ProcessedFiles) / float64(t.TotalFiles) * 100
		}
		if t.Status == models.StatusQueued || t.Status == models.StatusRetrying {
			now := time.Now()
			t.Status = models.StatusProcessing
			if t.StartedAt == nil {
				t.StartedAt = &now
			}
		}
		return nil
	})
	return err
}

// Complete finalizes a run. A pending cancel request wins over completion.
func (s *Service) Complete(ctx context.Context, taskID string) (*models.BatchTask, error) {
	task, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
		}
		now := time.Now()
		if t.CancelRequested {
			t.Status = models.StatusCancelled
		} else {
			t.Status = models.StatusCompleted
			t.Progress = 100
		}
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseLock(ctx, task)
	s.logger.Info("batch task finished",
		logger.String("taskId", taskID),
		logger.String("status", string(task.Status)),
		logger.Int("successFiles", task.SuccessFiles),
		logger.Int("failedFiles", task.FailedFiles),
	)
	return task, nil
}

// Cancel stops a task. Pending and queued tasks are cancelled immediately
// and their work item revoked; a processing task only gets the cancel flag
// set and the worker finalizes it between files.
func (s *Service) Cancel(ctx context.Context, taskID string) (*models.BatchTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case models.StatusPending, models.StatusQueued, models.StatusRetrying:
		if task.QueueTaskID != "" {
			if err := s.queue.Revoke(ctx, task.QueueTaskID); err != nil {
				// 可能已被 worker 取走, 由 CancelRequested 兜底
				s.logger.Warn("revoke failed, falling back to cancel flag",
					logger.String("taskId", taskID),
					logger.Error(err),
				)
			}
		}
		updated, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
			if t.Status.Terminal() {
				return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
			}
			now := time.Now()
			t.Status = models.StatusCancelled
			t.CancelRequested = true
			t.CompletedAt = &now
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.releaseLock(ctx, updated)
		s.logger.Info("batch task cancelled", logger.String("taskId", taskID))
		return updated, nil

	case models.StatusProcessing:
		updated, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
			t.CancelRequested = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("cancel requested for processing task", logger.String("taskId", taskID))
		return updated, nil

	default:
		return nil, fmt.Errorf("%w: cannot cancel %s task", ErrInvalidState, task.Status)
	}
}

// RetryTransient re-enqueues a task after a transient failure, or fails it
// permanently once the retry budget is spent.
func (s *Service) RetryTransient(ctx context.Context, taskID string, cause error) (*models.BatchTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, task.Status)
	}

	if task.RetryCount >= task.MaxRetries {
		return s.Fail(ctx, taskID, cause)
	}

	updated, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		t.RetryCount++
		t.Status = models.StatusRetrying
		t.ErrorMessage = cause.Error()
		return nil
	})
	if err != nil {
		return nil, err
	}

	handle, err := s.queue.Retry(ctx, &queue.ScanTask{
		TaskID:    task.TaskID,
		BookID:    task.BookID,
		Priority:  task.Priority,
		CreatedAt: time.Now(),
	}, s.cfg.RetryDelay)
	if err != nil {
		return s.Fail(ctx, taskID, fmt.Errorf("re-enqueue after %v: %w", cause, err))
	}

	updated, err = s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		t.QueueTaskID = handle
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("batch task scheduled for retry",
		logger.String("taskId", taskID),
		logger.Int("retryCount", updated.RetryCount),
		logger.Error(cause),
	)
	return updated, nil
}

// Fail marks a task permanently failed and records the cause with a stack.
func (s *Service) Fail(ctx context.Context, taskID string, cause error) (*models.BatchTask, error) {
	task, err := s.store.UpdateTask(ctx, taskID, func(t *models.BatchTask) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
		}
		now := time.Now()
		t.Status = models.StatusFailed
		t.ErrorMessage = cause.Error()
		t.ErrorStack = string(debug.Stack())
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseLock(ctx, task)
	s.logger.Error("batch task failed",
		logger.String("taskId", taskID),
		logger.Error(cause),
	)
	return task, nil
}

// Delete removes a task and its page results. Queued and processing tasks
// must be cancelled first.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.StatusQueued || task.Status == models.StatusProcessing {
		return fmt.Errorf("%w: cancel the %s task before deleting", ErrInvalidState, task.Status)
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	s.releaseLock(ctx, task)

	s.logger.Info("batch task deleted", logger.String("taskId", taskID))
	return nil
}

// GetTask 读取任务记录
func (s *Service) GetTask(ctx context.Context, taskID string) (*models.BatchTask, error) {
	return s.store.GetTask(ctx, taskID)
}

// GetStatus builds the status snapshot with the ten most recent pages.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	pages, err := s.store.RecentPages(ctx, taskID, 10)
	if err != nil {
		return nil, fmt.Errorf("recent pages: %w", err)
	}

	previews := make([]models.PagePreview, 0, len(pages))
	for _, p := range pages {
		previews = append(previews, models.PagePreview{
			FileName:   p.FileName,
			PageNumber: p.PageNumber,
			Volume:     p.Volume,
			Success:    p.Success,
			Confidence: p.Confidence,
		})
	}

	return &models.TaskSnapshot{
		TaskID:         task.TaskID,
		BookID:         task.BookID,
		Status:         task.Status,
		Progress:       task.Progress,
		TotalFiles:     task.TotalFiles,
		ProcessedFiles: task.ProcessedFiles,
		SuccessFiles:   task.SuccessFiles,
		FailedFiles:    task.FailedFiles,
		CreatedAt:      task.CreatedAt,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
		Error:          task.ErrorMessage,
		RecentPages:    previews,
	}, nil
}

// ListTasks 按过滤条件列出任务
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.BatchTask, error) {
	return s.store.ListTasks(ctx, filter)
}

func (s *Service) releaseLock(ctx context.Context, task *models.BatchTask) {
	if task.TaskHash == "" {
		return
	}
	if err := s.store.ReleaseLock(ctx, task.TaskHash); err != nil {
		s.logger.Warn("release task lock",
			logger.String("taskId", task.TaskID),
			logger.Error(err),
		)
	}
}
