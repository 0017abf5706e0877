package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/storage"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// exportDocument is the JSON export envelope.
type exportDocument struct {
	BookID          string       `json:"book_id"`
	TaskID          string       `json:"task_id"`
	TaskName        string       `json:"task_name,omitempty"`
	SourceDirectory string       `json:"source_directory"`
	ExportTime      time.Time    `json:"export_time"`
	TotalPages      int          `json:"total_pages"`
	Pages           []exportPage `json:"pages"`
}

type exportPage struct {
	FileName   string            `json:"file_name"`
	Volume     string            `json:"volume,omitempty"`
	PageNumber *int              `json:"page_number,omitempty"`
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Fragments  []models.Fragment `json:"fragments,omitempty"`
}

// Exporter renders a finished task's page results to a downloadable file.
type Exporter struct {
	store   store.Store
	backend storage.Storage
	logger  logger.Logger
}

func NewExporter(s store.Store, backend storage.Storage, log logger.Logger) *Exporter {
	return &Exporter{store: s, backend: backend, logger: log.Named("export")}
}

// Export writes the task's pages in reading order (by page number, then
// file name) and returns the storage key of the artifact.
func (e *Exporter) Export(ctx context.Context, taskID string, format ExportFormat, includeDetails bool) (string, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	pages, err := e.store.PagesByTask(ctx, taskID, 0)
	if err != nil {
		return "", fmt.Errorf("load pages: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case ExportJSON, "":
		err = e.writeJSON(&buf, task, pages, includeDetails)
		format = ExportJSON
	case ExportCSV:
		err = e.writeCSV(&buf, pages)
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s_%s.%s", task.BookID, task.TaskID, format)
	if task.BookID == "" {
		key = fmt.Sprintf("%s.%s", task.TaskID, format)
	}
	if _, err := e.backend.Store(ctx, &buf, key); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}

	e.logger.Info("task exported",
		logger.String("taskId", taskID),
		logger.String("format", string(format)),
		logger.String("key", key),
		logger.Int("pages", len(pages)),
	)
	return key, nil
}

func (e *Exporter) writeJSON(buf *bytes.Buffer, task *models.BatchTask, pages []*models.PageResult, includeDetails bool) error {
	doc := exportDocument{
		BookID:          task.BookID,
		TaskID:          task.TaskID,
		TaskName:        task.TaskName,
		SourceDirectory: task.SourceDirectory,
		ExportTime:      time.Now(),
		TotalPages:      len(pages),
		Pages:           make([]exportPage, 0, len(pages)),
	}
	for _, p := range pages {
		page := exportPage{
			FileName:   p.FileName,
			Volume:     p.Volume,
			PageNumber: p.PageNumber,
			Text:       p.RawText,
			Confidence: p.Confidence,
			Success:    p.Success,
			Error:      p.Error,
		}
		if includeDetails {
			page.Fragments = p.Fragments
		}
		doc.Pages = append(doc.Pages, page)
	}

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

func (e *Exporter) writeCSV(buf *bytes.Buffer, pages []*models.PageResult) error {
	// UTF-8 BOM, 否则 Excel 打开中文乱码
	buf.WriteString("\xef\xbb\xbf")

	w := csv.NewWriter(buf)
	if err := w.Write([]string{"文件名", "卷号", "页码", "识别文字", "置信度", "状态"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range pages {
		pageNo := ""
		if p.PageNumber != nil {
			pageNo = strconv.Itoa(*p.PageNumber)
		}
		status := "成功"
		if !p.Success {
			status = "失败"
		}
		row := []string{
			p.FileName,
			p.Volume,
			pageNo,
			p.RawText,
			fmt.Sprintf("%.2f%%", p.Confidence*100),
			status,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}
