package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/internal/recognizer"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/storage/local"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

type stubQueue struct {
	seq int
}

func (s *stubQueue) Enqueue(_ context.Context, _ *queue.ScanTask) (string, error) {
	s.seq++
	return fmt.Sprintf("handle-%d", s.seq), nil
}

func (s *stubQueue) Revoke(_ context.Context, _ string) error { return nil }

func (s *stubQueue) Retry(_ context.Context, _ *queue.ScanTask, _ time.Duration) (string, error) {
	s.seq++
	return fmt.Sprintf("handle-%d", s.seq), nil
}

// fakeEngine 记录调用次数, 可选在识别中触发上下文取消
type fakeEngine struct {
	calls   int
	succeed bool
	cancel  context.CancelFunc
}

func (f *fakeEngine) Recognize(_ context.Context, _ string, _ recognizer.Options) *recognizer.Result {
	f.calls++
	if f.cancel != nil {
		f.cancel()
	}
	if !f.succeed {
		return &recognizer.Result{Success: false, Error: "engine error", Duration: time.Millisecond}
	}
	return &recognizer.Result{
		Success: true,
		Fragments: []models.Fragment{
			{Text: "某某", Confidence: 0.95, Box: [4][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}},
		},
		Duration: time.Millisecond,
	}
}

func (f *fakeEngine) Close() error { return nil }

type stubResolver struct {
	engine recognizer.Recognizer
}

func (r stubResolver) For(string) (recognizer.Recognizer, error) { return r.engine, nil }

func newTestWorker(t *testing.T, engine recognizer.Recognizer) (*ScanWorker, *batch.Service, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	svc := batch.NewService(s, &stubQueue{}, &batch.Config{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		LockTTL:    time.Hour,
	}, logger.NewTestLogger())

	w := &ScanWorker{
		BaseWorker: BaseWorker{logger: logger.NewTestLogger()},
		service:    svc,
		engines:    stubResolver{engine: engine},
		cfg:        &Config{FileWorkers: 1},
	}
	return w, svc, s
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644))
	}
}

func TestProcessTaskReconcilesTotal(t *testing.T) {
	engine := &fakeEngine{succeed: true}
	w, svc, _ := newTestWorker(t, engine)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "001.jpg", "002.jpg")
	task, err := svc.Create(ctx, &batch.CreateRequest{Directory: dir})
	require.NoError(t, err)
	require.Equal(t, 2, task.TotalFiles)

	// 创建后目录新增一个文件
	writeFiles(t, dir, "003.jpg")

	require.NoError(t, w.processTask(ctx, task))

	got, err := svc.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalFiles)
	assert.Equal(t, 3, got.ProcessedFiles)
	assert.InDelta(t, 100.0, got.Progress, 0.01)
}

func TestProcessFileInterruptedLeavesNoPage(t *testing.T) {
	engine := &fakeEngine{succeed: false}
	w, svc, s := newTestWorker(t, engine)

	dir := t.TempDir()
	writeFiles(t, dir, "001.jpg")
	task, err := svc.Create(context.Background(), &batch.CreateRequest{Directory: dir})
	require.NoError(t, err)

	// 引擎在识别中被软超时打断
	ctx, cancel := context.WithCancel(context.Background())
	engine.cancel = cancel

	err = w.processFile(ctx, task, filepath.Join(dir, "001.jpg"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, engine.calls)

	// 不落失败页, 文件留给任务级重试
	pages, err := s.PagesByTask(context.Background(), task.TaskID, 0)
	require.NoError(t, err)
	assert.Empty(t, pages)

	got, err := svc.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProcessedFiles)
}

func TestProcessFileRecordsFailureAfterRetries(t *testing.T) {
	engine := &fakeEngine{succeed: false}
	w, svc, s := newTestWorker(t, engine)
	ctx := context.Background()

	dir := t.TempDir()
	writeFiles(t, dir, "001.jpg")
	task, err := svc.Create(ctx, &batch.CreateRequest{Directory: dir})
	require.NoError(t, err)

	require.NoError(t, w.processFile(ctx, task, filepath.Join(dir, "001.jpg")))
	assert.Equal(t, fileAttempts, engine.calls)

	pages, err := s.PagesByTask(ctx, task.TaskID, 0)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.False(t, pages[0].Success)
	assert.Equal(t, "engine error", pages[0].Error)

	got, err := svc.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedFiles)
}

func TestHandleExportCleanup(t *testing.T) {
	dir := t.TempDir()
	exports, err := local.NewLocalStorage(dir, logger.NewTestLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = exports.Store(ctx, strings.NewReader("old"), "stale.json")
	require.NoError(t, err)
	_, err = exports.Store(ctx, strings.NewReader("new"), "fresh.json")
	require.NoError(t, err)

	expired := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "stale.json"), expired, expired))

	w := &ScanWorker{
		BaseWorker: BaseWorker{logger: logger.NewTestLogger()},
		exports:    exports,
		cfg:        &Config{ExportRetention: 7 * 24 * time.Hour},
	}
	require.NoError(t, w.handleExportCleanup(ctx, nil))

	_, err = os.Stat(filepath.Join(dir, "stale.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "fresh.json"))
	assert.NoError(t, err)
}
