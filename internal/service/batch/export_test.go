package batch

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/storage/local"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

func intPtr(n int) *int { return &n }

func newTestExporter(t *testing.T) (*Exporter, *local.LocalStorage, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	backend, err := local.NewLocalStorage(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)
	return NewExporter(s, backend, logger.NewTestLogger()), backend, s
}

func seedExportTask(t *testing.T, s store.Store) *models.BatchTask {
	t.Helper()
	ctx := context.Background()
	task := &models.BatchTask{
		TaskID:          "task-1",
		BookID:          "book-1",
		TaskName:        "某氏族谱",
		SourceDirectory: "/data/books/zupu",
		Status:          models.StatusCompleted,
	}
	require.NoError(t, s.CreateTask(ctx, task))

	pages := []*models.PageResult{
		{PageID: "p2", TaskID: "task-1", FileName: "002.jpg", PageNumber: intPtr(2), RawText: "第二页", Confidence: 0.85, Success: true,
			Fragments: []models.Fragment{{Text: "第二页", Confidence: 0.85, Box: [4][2]float64{{0, 0}, {10, 0}, {10, 5}, {0, 5}}}}},
		{PageID: "p1", TaskID: "task-1", FileName: "001.jpg", PageNumber: intPtr(1), Volume: "1", RawText: "第一页", Confidence: 0.92, Success: true},
		{PageID: "p3", TaskID: "task-1", FileName: "broken.jpg", RawText: "", Success: false, Error: "decode failed"},
	}
	for _, p := range pages {
		require.NoError(t, s.CreatePage(ctx, p))
	}
	return task
}

func TestExportJSONRoundTrip(t *testing.T) {
	exporter, backend, s := newTestExporter(t)
	task := seedExportTask(t, s)
	ctx := context.Background()

	key, err := exporter.Export(ctx, task.TaskID, ExportJSON, true)
	require.NoError(t, err)
	assert.Equal(t, "book-1_task-1.json", key)

	r, err := backend.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "book-1", doc.BookID)
	assert.Equal(t, "/data/books/zupu", doc.SourceDirectory)
	assert.Equal(t, 3, doc.TotalPages)

	// 按页码排序, 无页码的排最后
	require.Len(t, doc.Pages, 3)
	assert.Equal(t, "001.jpg", doc.Pages[0].FileName)
	assert.Equal(t, "002.jpg", doc.Pages[1].FileName)
	assert.Equal(t, "broken.jpg", doc.Pages[2].FileName)
	assert.Equal(t, "第一页", doc.Pages[0].Text)
	assert.NotEmpty(t, doc.Pages[1].Fragments)
	assert.Equal(t, "decode failed", doc.Pages[2].Error)
}

func TestExportJSONWithoutDetails(t *testing.T) {
	exporter, backend, s := newTestExporter(t)
	task := seedExportTask(t, s)
	ctx := context.Background()

	key, err := exporter.Export(ctx, task.TaskID, ExportJSON, false)
	require.NoError(t, err)

	r, err := backend.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, page := range doc.Pages {
		assert.Empty(t, page.Fragments)
	}
}

func TestExportCSV(t *testing.T) {
	exporter, backend, s := newTestExporter(t)
	task := seedExportTask(t, s)
	ctx := context.Background()

	key, err := exporter.Export(ctx, task.TaskID, ExportCSV, false)
	require.NoError(t, err)
	assert.Equal(t, "book-1_task-1.csv", key)

	r, err := backend.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "\xef\xbb\xbf"))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(content, "\xef\xbb\xbf")), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "文件名,卷号,页码,识别文字,置信度,状态", lines[0])
	assert.Contains(t, lines[1], "001.jpg")
	assert.Contains(t, lines[1], "92.00%")
	assert.Contains(t, lines[1], "成功")
	assert.Contains(t, lines[3], "失败")
}

func TestExportUnknownTask(t *testing.T) {
	exporter, _, _ := newTestExporter(t)
	_, err := exporter.Export(context.Background(), "missing", ExportJSON, false)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestExportUnsupportedFormat(t *testing.T) {
	exporter, _, s := newTestExporter(t)
	task := seedExportTask(t, s)
	_, err := exporter.Export(context.Background(), task.TaskID, "xml", false)
	assert.Error(t, err)
}
