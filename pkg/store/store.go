// Package store is the durable source of truth for tasks, page results and
// task locks. Every component reads and writes through it; nothing caches
// mutable task state locally.
package store

import (
	"context"
	"errors"

	"github.com/sishengcao/paddleocr-api/internal/models"
)

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")
	// ErrPageNotFound 页面不存在
	ErrPageNotFound = errors.New("page result not found")
	// ErrPageExists is returned when a page result for the same file of the
	// same task was already recorded; callers use it for idempotence.
	ErrPageExists = errors.New("page result already recorded")
	// ErrLockHeld is returned when an active lock exists for the key.
	ErrLockHeld = errors.New("task lock already held")
)

// TaskFilter enumerates the exact supported list predicates. Zero values
// mean "no constraint".
type TaskFilter struct {
	BookID   string
	Statuses []models.TaskStatus
	Limit    int
}

// ActiveStatuses are the lifecycle states that occupy a fingerprint.
func ActiveStatuses() []models.TaskStatus {
	return []models.TaskStatus{models.StatusPending, models.StatusQueued, models.StatusProcessing}
}

// TaskStore persists batch task records.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.BatchTask) error
	GetTask(ctx context.Context, taskID string) (*models.BatchTask, error)
	// UpdateTask applies mutate as an atomic read-modify-write on the task
	// record and returns the stored result. Concurrent updates to the same
	// task never lose increments.
	UpdateTask(ctx context.Context, taskID string, mutate func(*models.BatchTask) error) (*models.BatchTask, error)
	// FindByHash returns a task with the given fingerprint whose status is
	// in statuses, or ErrTaskNotFound.
	FindByHash(ctx context.Context, hash string, statuses []models.TaskStatus) (*models.BatchTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.BatchTask, error)
	// DeleteTask removes the task and cascades to its page results.
	DeleteTask(ctx context.Context, taskID string) error
}

// PageStore persists immutable per-file results.
type PageStore interface {
	// CreatePage records a page result. A second result for the same file
	// of the same task returns ErrPageExists and stores nothing.
	CreatePage(ctx context.Context, page *models.PageResult) error
	// PagesByTask returns results ordered by page number (results without
	// one sort last, then by file name). limit <= 0 means no limit.
	PagesByTask(ctx context.Context, taskID string, limit int) ([]*models.PageResult, error)
	// RecentPages returns up to limit results, most recently recorded first.
	RecentPages(ctx context.Context, taskID string, limit int) ([]*models.PageResult, error)
}

// LockStore manages advisory duplicate-suppression locks.
type LockStore interface {
	// AcquireLock stores the lock unless an unexpired active lock already
	// holds the key, in which case it returns ErrLockHeld.
	AcquireLock(ctx context.Context, lock *models.TaskLock) error
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Store 持久化层
type Store interface {
	TaskStore
	PageStore
	LockStore
}
