package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sishengcao/paddleocr-api/api/handlers"
	"github.com/sishengcao/paddleocr-api/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	// 全局中间件
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API 版本组
	api := r.Group("/api/ocr")

	// 批量扫描路由组
	batch := api.Group("/batch")
	{
		batch.POST("/scan", h.Batch.CreateScan)
		batch.POST("/start/:taskId", h.Batch.StartTask)
		batch.GET("/status/:taskId", h.Batch.GetStatus)
		batch.POST("/cancel/:taskId", h.Batch.CancelTask)
		batch.DELETE("/task/:taskId", h.Batch.DeleteTask)
		batch.GET("/tasks", h.Batch.ListTasks)
		batch.POST("/export/:taskId", h.Batch.ExportTask)
		batch.GET("/genealogy/:taskId", h.Batch.MineGenealogy)
	}
}
