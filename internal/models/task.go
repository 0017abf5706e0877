package models

import (
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusRetrying   TaskStatus = "retrying"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the task still occupies its fingerprint for
// duplicate detection.
func (s TaskStatus) Active() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing:
		return true
	}
	return false
}

// TextLayout 文字排版方向
type TextLayout string

const (
	LayoutHorizontal TextLayout = "horizontal"
	LayoutVerticalRL TextLayout = "vertical_rl"
	LayoutVerticalLR TextLayout = "vertical_lr"
)

// OutputFormat 输出格式
type OutputFormat string

const (
	FormatLineByLine     OutputFormat = "line_by_line"
	FormatCharByChar     OutputFormat = "char_by_char"
	FormatColumnByColumn OutputFormat = "column_by_column"
)

// DefaultFilePatterns 默认匹配的扫描件类型
var DefaultFilePatterns = []string{
	"*.jpg", "*.jpeg", "*.png", "*.bmp", "*.pdf",
	"*.JPG", "*.JPEG", "*.PNG", "*.BMP", "*.PDF",
}

// ScanConfig is the effective recognition configuration of a batch task.
// It participates in the duplicate-detection fingerprint.
type ScanConfig struct {
	Lang         string       `json:"lang"`
	UseAngleCls  bool         `json:"useAngleCls"`
	TextLayout   TextLayout   `json:"textLayout"`
	OutputFormat OutputFormat `json:"outputFormat"`
	Recursive    bool         `json:"recursive"`
	FilePatterns []string     `json:"filePatterns"`
}

// Normalized fills unset fields with the defaults the original service used.
func (c ScanConfig) Normalized() ScanConfig {
	if c.Lang == "" {
		c.Lang = "ch"
	}
	if c.TextLayout == "" {
		c.TextLayout = LayoutHorizontal
	}
	if c.OutputFormat == "" {
		c.OutputFormat = FormatLineByLine
	}
	if len(c.FilePatterns) == 0 {
		c.FilePatterns = append([]string(nil), DefaultFilePatterns...)
	}
	return c
}

// BatchTask 批量扫描任务
type BatchTask struct {
	TaskID          string     `json:"taskId"`
	BookID          string     `json:"bookId"`
	TaskName        string     `json:"taskName"`
	SourceDirectory string     `json:"sourceDirectory"`
	Config          ScanConfig `json:"config"`

	Status   TaskStatus `json:"status"`
	Priority int        `json:"priority"`

	TotalFiles     int     `json:"totalFiles"`
	ProcessedFiles int     `json:"processedFiles"`
	SuccessFiles   int     `json:"successFiles"`
	FailedFiles    int     `json:"failedFiles"`
	Progress       float64 `json:"progress"`

	// Handle of the queued work item on the execution substrate.
	QueueTaskID string `json:"queueTaskId,omitempty"`
	RetryCount  int    `json:"retryCount"`
	MaxRetries  int    `json:"maxRetries"`

	// Set by Cancel while the task is processing; the worker checks it
	// between files and finalizes the task as cancelled.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	QueuedAt    *time.Time `json:"queuedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorStack   string `json:"errorStack,omitempty"`

	// Content hash for duplicate suppression.
	TaskHash string `json:"taskHash"`
}

// Fragment is one recognized text region with its bounding quadrilateral.
// Box holds four [x, y] vertices.
type Fragment struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Box        [4][2]float64 `json:"box"`
}

// PageResult is the immutable outcome of one processed file.
type PageResult struct {
	PageID   string `json:"pageId"`
	TaskID   string `json:"taskId"`
	BookID   string `json:"bookId"`
	FileName string `json:"fileName"`

	// Inferred from the file name; either may be absent.
	PageNumber *int   `json:"pageNumber,omitempty"`
	Volume     string `json:"volume,omitempty"`

	RawText    string     `json:"rawText"`
	Fragments  []Fragment `json:"fragments,omitempty"`
	Confidence float64    `json:"confidence"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`

	ProcessingTime float64   `json:"processingTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TaskLockStatus 锁状态
type TaskLockStatus string

const (
	LockActive    TaskLockStatus = "active"
	LockCompleted TaskLockStatus = "completed"
	LockExpired   TaskLockStatus = "expired"
)

// TaskLock is the advisory duplicate-suppression record keyed by task hash.
type TaskLock struct {
	LockKey   string         `json:"lockKey"`
	TaskID    string         `json:"taskId"`
	BookID    string         `json:"bookId"`
	Status    TaskLockStatus `json:"status"`
	LockedAt  time.Time      `json:"lockedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// PagePreview is the trimmed page view embedded in task status responses.
type PagePreview struct {
	FileName   string  `json:"fileName"`
	PageNumber *int    `json:"pageNumber,omitempty"`
	Volume     string  `json:"volume,omitempty"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
}

// TaskSnapshot 任务状态快照
type TaskSnapshot struct {
	TaskID         string        `json:"taskId"`
	BookID         string        `json:"bookId"`
	Status         TaskStatus    `json:"status"`
	Progress       float64       `json:"progress"`
	TotalFiles     int           `json:"totalFiles"`
	ProcessedFiles int           `json:"processedFiles"`
	SuccessFiles   int           `json:"successFiles"`
	FailedFiles    int           `json:"failedFiles"`
	CreatedAt      time.Time     `json:"createdAt"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	Error          string        `json:"error,omitempty"`
	RecentPages    []PagePreview `json:"recentPages"`
}
