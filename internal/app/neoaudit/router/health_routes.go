package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"neoaudit/internal/pkg/logger"
)

// setupHealthRoutes 设置健康检查路由
func (r *Router) setupHealthRoutes(group *gin.RouterGroup) {
	group.GET("/health", r.healthCheck)
}

// setupMetricsRoutes 暴露 Prometheus 指标
func (r *Router) setupMetricsRoutes(group *gin.RouterGroup) {
	if r.metrics == nil {
		return
	}
	group.GET("/metrics", gin.WrapH(r.metrics.Handler()))
}

// healthCheck 健康检查处理器，附带活动任务数
func (r *Router) healthCheck(c *gin.Context) {
	active := 0
	if r.scanModule != nil && r.scanModule.Registry != nil {
		active = r.scanModule.Registry.Len()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"active_tasks": active,
		"timestamp":    logger.FormatTimestamp(time.Now()),
	})
}
