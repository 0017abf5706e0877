package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sishengcao/paddleocr-api/internal/genealogy"
	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/internal/scan"
	"github.com/sishengcao/paddleocr-api/internal/service/batch"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

type BatchHandler struct {
	service  *batch.Service
	exporter *batch.Exporter
	miner    *genealogy.Miner
	logger   logger.Logger
}

// ScanRequest 创建批量扫描任务的请求体
type ScanRequest struct {
	BookID    string            `json:"bookId"`
	TaskName  string            `json:"taskName"`
	Directory string            `json:"directory" binding:"required"`
	Priority  int               `json:"priority"`
	AutoStart bool              `json:"autoStart"`
	Config    models.ScanConfig `json:"config"`
}

// ExportRequest 导出请求体
type ExportRequest struct {
	Format         string `json:"format"`
	IncludeDetails bool   `json:"includeDetails"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewBatchHandler(service *batch.Service, exporter *batch.Exporter, miner *genealogy.Miner, logger logger.Logger) *BatchHandler {
	return &BatchHandler{
		service:  service,
		exporter: exporter,
		miner:    miner,
		logger:   logger,
	}
}

// CreateScan 创建批量扫描任务
func (h *BatchHandler) CreateScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	task, err := h.service.Create(c.Request.Context(), &batch.CreateRequest{
		BookID:    req.BookID,
		TaskName:  req.TaskName,
		Directory: req.Directory,
		Priority:  req.Priority,
		Config:    req.Config,
	})
	if err != nil {
		var dup *batch.DuplicateTaskError
		switch {
		case errors.As(err, &dup):
			c.JSON(http.StatusConflict, gin.H{
				"error":          "duplicate task",
				"existingTaskId": dup.TaskID,
				"status":         string(dup.Status),
				"progress":       dup.Progress,
			})
		case errors.Is(err, scan.ErrDirectoryNotFound):
			h.handleError(c, http.StatusBadRequest, "Source directory not found", err)
		default:
			h.handleError(c, http.StatusInternalServerError, "Failed to create task", err)
		}
		return
	}

	if req.AutoStart {
		if task, err = h.service.Submit(c.Request.Context(), task.TaskID); err != nil {
			h.handleError(c, http.StatusInternalServerError, "Task created but failed to start", err)
			return
		}
	}

	c.JSON(http.StatusOK, task)
}

// StartTask 提交待执行任务
func (h *BatchHandler) StartTask(c *gin.Context) {
	task, err := h.service.Submit(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleServiceError(c, "Failed to start task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetStatus 任务状态查询
func (h *BatchHandler) GetStatus(c *gin.Context) {
	snapshot, err := h.service.GetStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleServiceError(c, "Failed to get task status", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CancelTask 取消任务
func (h *BatchHandler) CancelTask(c *gin.Context) {
	task, err := h.service.Cancel(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleServiceError(c, "Failed to cancel task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask 删除任务及其页面结果
func (h *BatchHandler) DeleteTask(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("taskId")); err != nil {
		h.handleServiceError(c, "Failed to delete task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListTasks 任务列表, 支持 bookId 和 status 过滤
func (h *BatchHandler) ListTasks(c *gin.Context) {
	filter := store.TaskFilter{BookID: c.Query("bookId")}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []models.TaskStatus{models.TaskStatus(status)}
	}

	tasks, err := h.service.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// ExportTask 导出识别结果
func (h *BatchHandler) ExportTask(c *gin.Context) {
	// 请求体可省略, 省略时取默认格式
	var req ExportRequest
	_ = c.ShouldBindJSON(&req)

	key, err := h.exporter.Export(c.Request.Context(), c.Param("taskId"), batch.ExportFormat(req.Format), req.IncludeDetails)
	if err != nil {
		h.handleServiceError(c, "Failed to export task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": key})
}

// MineGenealogy 从识别结果中抽取族谱条目
func (h *BatchHandler) MineGenealogy(c *gin.Context) {
	entries, err := h.miner.MineTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleServiceError(c, "Failed to mine genealogy entries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

func (h *BatchHandler) handleServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		h.handleError(c, http.StatusNotFound, "Task not found", err)
	case errors.Is(err, batch.ErrInvalidState):
		h.handleError(c, http.StatusConflict, message, err)
	default:
		h.handleError(c, http.StatusInternalServerError, message, err)
	}
}

func (h *BatchHandler) handleError(c *gin.Context, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Error(message, logger.Error(err))
	}
	c.JSON(status, resp)
}
