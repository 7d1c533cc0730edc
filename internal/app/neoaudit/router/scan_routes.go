package router

import (
	"github.com/gin-gonic/gin"
)

// setupScanRoutes 设置扫描任务路由
func (r *Router) setupScanRoutes(v1 *gin.RouterGroup) {
	if r.scanModule == nil || r.scanModule.TaskHandler == nil {
		return
	}
	h := r.scanModule.TaskHandler

	tasks := v1.Group("/scan/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.GET("/:id/status", h.GetTaskStatus)
		tasks.POST("/:id/stop", h.StopTask)
	}
}
