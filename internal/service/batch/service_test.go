package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/internal/scan"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/queue"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

// fakeQueue 记录入队和撤销调用
type fakeQueue struct {
	enqueued []*queue.ScanTask
	revoked  []string
	retried  []*queue.ScanTask
	seq      int
	failNext bool
}

func (f *fakeQueue) Enqueue(_ context.Context, task *queue.ScanTask) (string, error) {
	if f.failNext {
		f.failNext = false
		return "", errors.New("queue unavailable")
	}
	f.seq++
	f.enqueued = append(f.enqueued, task)
	return fmt.Sprintf("handle-%d", f.seq), nil
}

func (f *fakeQueue) Revoke(_ context.Context, handle string) error {
	f.revoked = append(f.revoked, handle)
	return nil
}

func (f *fakeQueue) Retry(_ context.Context, task *queue.ScanTask, _ time.Duration) (string, error) {
	f.seq++
	f.retried = append(f.retried, task)
	return fmt.Sprintf("handle-%d", f.seq), nil
}

func newTestService(t *testing.T) (*Service, *fakeQueue, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	q := &fakeQueue{}
	svc := NewService(s, q, &Config{MaxRetries: 2, RetryDelay: time.Millisecond, LockTTL: time.Hour}, logger.NewTestLogger())
	return svc, q, s
}

func scanDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644))
	}
	return dir
}

func TestCreatePendingTask(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg", "002.jpg", "003.png")

	task, err := svc.Create(context.Background(), &CreateRequest{
		BookID:    "book-1",
		Directory: dir,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, 3, task.TotalFiles)
	assert.NotEmpty(t, task.TaskID)
	assert.NotEmpty(t, task.TaskHash)
	assert.Equal(t, 2, task.MaxRetries)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	first, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	_, err = svc.Create(ctx, &CreateRequest{Directory: dir})
	var dup *DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.TaskID, dup.TaskID)
	assert.Equal(t, models.StatusPending, dup.Status)
}

func TestCreateDifferentConfigNotDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	_, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	// 改排版方向后指纹不同
	task, err := svc.Create(ctx, &CreateRequest{
		Directory: dir,
		Config:    models.ScanConfig{TextLayout: models.LayoutVerticalRL},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.TaskID)
}

func TestCreateMissingDirectoryLeavesNoRecord(t *testing.T) {
	svc, _, s := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &CreateRequest{Directory: "/no/such/dir"})
	require.ErrorIs(t, err, scan.ErrDirectoryNotFound)

	tasks, err := s.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSubmitQueuesPendingTask(t *testing.T) {
	svc, q, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	queued, err := svc.Submit(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, queued.Status)
	assert.Equal(t, "handle-1", queued.QueueTaskID)
	assert.NotNil(t, queued.QueuedAt)
	require.Len(t, q.enqueued, 1)

	// 二次提交被拒
	_, err = svc.Submit(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOnFileProcessedAdvancesCounters(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg", "002.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, task.TaskID)
	require.NoError(t, err)

	require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
		TaskID: task.TaskID, FileName: "001.jpg", Success: true,
	}))

	got, err := svc.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, 1, got.ProcessedFiles)
	assert.Equal(t, 1, got.SuccessFiles)
	assert.InDelta(t, 50.0, got.Progress, 0.01)

	require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
		TaskID: task.TaskID, FileName: "002.jpg", Success: false, Error: "decode failed",
	}))

	got, err = svc.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedFiles)
	assert.Equal(t, 1, got.FailedFiles)
	assert.InDelta(t, 100.0, got.Progress, 0.01)
}

func TestReconcileTotalRescalesProgress(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg", "002.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
		TaskID: task.TaskID, FileName: "001.jpg", Success: true,
	}))

	// 创建后目录新增文件, 以 worker 枚举结果为准
	got, err := svc.ReconcileTotal(ctx, task.TaskID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalFiles)
	assert.InDelta(t, 25.0, got.Progress, 0.01)

	_, err = svc.Complete(ctx, task.TaskID)
	require.NoError(t, err)
	_, err = svc.ReconcileTotal(ctx, task.TaskID, 5)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOnFileProcessedIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg", "002.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	// 同一文件回调两次只计一次
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
			TaskID: task.TaskID, FileName: "001.jpg", Success: true,
		}))
	}

	got, err := svc.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedFiles)
	assert.Equal(t, 1, got.SuccessFiles)
	assert.InDelta(t, 50.0, got.Progress, 0.01)
}

func TestCompleteFinalizesTask(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.InDelta(t, 100.0, done.Progress, 0.01)
	assert.NotNil(t, done.CompletedAt)

	// 终态后不可再完成
	_, err = svc.Complete(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteHonorsCancelRequest(t *testing.T) {
	svc, _, s := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	_, err = s.UpdateTask(ctx, task.TaskID, func(t *models.BatchTask) error {
		t.Status = models.StatusProcessing
		return nil
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, done.Status)
}

func TestCancelQueuedRevokesHandle(t *testing.T) {
	svc, q, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	queued, err := svc.Submit(ctx, task.TaskID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{queued.QueueTaskID}, q.revoked)
}

func TestCancelProcessingSetsFlagOnly(t *testing.T) {
	svc, _, s := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = s.UpdateTask(ctx, task.TaskID, func(t *models.BatchTask) error {
		t.Status = models.StatusProcessing
		return nil
	})
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.True(t, got.CancelRequested)
}

func TestCancelTerminalRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, task.TaskID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRetryTransientWithinBudget(t *testing.T) {
	svc, q, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)

	retried, err := svc.RetryTransient(ctx, task.TaskID, errors.New("engine hiccup"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.NotEmpty(t, retried.QueueTaskID)
	assert.Len(t, q.retried, 1)
}

func TestRetryTransientExhaustedFails(t *testing.T) {
	svc, _, s := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = s.UpdateTask(ctx, task.TaskID, func(t *models.BatchTask) error {
		t.RetryCount = t.MaxRetries
		return nil
	})
	require.NoError(t, err)

	failed, err := svc.RetryTransient(ctx, task.TaskID, errors.New("engine down"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "engine down", failed.ErrorMessage)
	assert.NotEmpty(t, failed.ErrorStack)
}

func TestDeleteRejectsRunningTask(t *testing.T) {
	svc, _, s := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, task.TaskID)
	require.NoError(t, err)

	err = svc.Delete(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)

	require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
		TaskID: task.TaskID, FileName: "001.jpg", Success: true,
	}))

	require.NoError(t, svc.Delete(ctx, task.TaskID))

	_, err = svc.GetTask(ctx, task.TaskID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	pages, err := s.PagesByTask(ctx, task.TaskID, 0)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestDeleteFreesFingerprint(t *testing.T) {
	svc, _, _ := newTestService(t)
	dir := scanDir(t, "001.jpg")
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, task.TaskID)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, task.TaskID))

	// 同配置可重新创建
	again, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	assert.NotEqual(t, task.TaskID, again.TaskID)
}

func TestGetStatusIncludesRecentPages(t *testing.T) {
	svc, _, _ := newTestService(t)
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("%03d.jpg", i+1)
	}
	dir := scanDir(t, names...)
	ctx := context.Background()

	task, err := svc.Create(ctx, &CreateRequest{Directory: dir})
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, svc.OnFileProcessed(ctx, &models.PageResult{
			TaskID: task.TaskID, FileName: name, Success: true, Confidence: 0.9,
		}))
	}

	snap, err := svc.GetStatus(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 12, snap.ProcessedFiles)
	assert.Len(t, snap.RecentPages, 10)
	// 最新的排最前
	assert.Equal(t, "012.jpg", snap.RecentPages[0].FileName)
}
