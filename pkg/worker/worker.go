// Package worker runs the asynq consumer that executes batch scan tasks.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr   string
	RedisDB     int
	Concurrency int
	Queues      map[string]int
	// FileWorkers bounds per-task file parallelism.
	FileWorkers int
	// SoftTimeLimit caps one execution attempt; overruns go back through
	// the retry path instead of being killed.
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	// ExportRetention is how long export artifacts survive before the
	// periodic cleanup removes them.
	ExportRetention time.Duration
}

// DefaultQueues weights the three priority queues.
func DefaultQueues() map[string]int {
	return map[string]int{
		queue.QueueCritical: 6,
		queue.QueueDefault:  3,
		queue.QueueLow:      1,
	}
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Stop()
		w.server.Shutdown()
	})
	return nil
}
