// Package queue hands batch scan tasks to the asynq execution substrate.
// The lifecycle manager only ever enqueues, revokes and re-enqueues; all
// durable task state lives in the store, not in the queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	// TypeBatchScan 批量扫描任务
	TypeBatchScan = "batch:scan"
	// TypeExportCleanup 周期性清理过期导出文件
	TypeExportCleanup = "export:cleanup"
)

// Queue names, served by weight.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ScanTask is the payload carried on the substrate. Everything the worker
// needs beyond this is re-read from the store by task id.
type ScanTask struct {
	TaskID    string    `json:"taskId"`
	BookID    string    `json:"bookId"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue 执行底座接口
type Queue interface {
	// Enqueue schedules the task and returns the substrate handle.
	Enqueue(ctx context.Context, task *ScanTask) (string, error)
	// Revoke removes a not-yet-started work item.
	Revoke(ctx context.Context, handle string) error
	// Retry re-enqueues the task after delay and returns the new handle.
	Retry(ctx context.Context, task *ScanTask, delay time.Duration) (string, error)
}

// Config 队列配置
type Config struct {
	RedisAddr      string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

// AsynqQueue 基于 asynq 的实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       *Config
}

func NewAsynqQueue(cfg *Config) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		cfg:       cfg,
	}
}

// queueFor maps task priority to a named queue: higher priority is served
// first through queue weights.
func queueFor(priority int) string {
	switch {
	case priority >= 8:
		return QueueCritical
	case priority >= 4:
		return QueueDefault
	default:
		return QueueLow
	}
}

func (q *AsynqQueue) enqueue(ctx context.Context, task *ScanTask, extra ...asynq.Option) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal scan task: %w", err)
	}

	opts := append([]asynq.Option{
		asynq.Queue(queueFor(task.Priority)),
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.ProcessTimeout),
	}, extra...)

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypeBatchScan, payload), opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue scan task: %w", err)
	}
	return info.ID, nil
}

func (q *AsynqQueue) Enqueue(ctx context.Context, task *ScanTask) (string, error) {
	return q.enqueue(ctx, task)
}

func (q *AsynqQueue) Retry(ctx context.Context, task *ScanTask, delay time.Duration) (string, error) {
	return q.enqueue(ctx, task, asynq.ProcessIn(delay))
}

// Revoke deletes the work item from whichever queue holds it. Items that
// already started are left to finish; cancellation is cooperative.
func (q *AsynqQueue) Revoke(_ context.Context, handle string) error {
	var lastErr error
	for _, name := range []string{QueueCritical, QueueDefault, QueueLow} {
		if err := q.inspector.DeleteTask(name, handle); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("revoke task %s: %w", handle, lastErr)
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
