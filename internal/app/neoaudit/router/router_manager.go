/**
 * 路由:路由管理器
 * @author: sun977
 * @date: 2026.10.15
 * @description: 路由管理器，包含Router结构体、NewRouter函数和SetupRoutes主函数
 */
package router

import (
	"github.com/gin-gonic/gin"

	"neoaudit/internal/app/neoaudit/middleware"
	"neoaudit/internal/app/neoaudit/setup"
	"neoaudit/internal/config"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/monitor"
)

// Router 路由管理器
type Router struct {
	config            *config.Config
	engine            *gin.Engine
	middlewareManager *middleware.MiddlewareManager
	metrics           *monitor.Metrics
	scanModule        *setup.ScanModule
}

// NewRouter 创建路由管理器实例
func NewRouter(cfg *config.Config, scanModule *setup.ScanModule, metrics *monitor.Metrics) *Router {
	mode := gin.ReleaseMode
	if cfg.Server != nil && cfg.Server.Mode != "" {
		mode = cfg.Server.Mode
	}
	gin.SetMode(mode)

	return &Router{
		config:            cfg,
		engine:            gin.New(),
		middlewareManager: middleware.NewMiddlewareManager(),
		metrics:           metrics,
		scanModule:        scanModule,
	}
}

// SetupRoutes 设置全局中间件和路由
func (r *Router) SetupRoutes() {
	r.registerGlobalMiddleware()
	r.registerRoutes()
}

// GetEngine 获取Gin引擎实例
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// registerGlobalMiddleware 注册全局中间件
// 请求ID必须在日志与恢复中间件之前注册
func (r *Router) registerGlobalMiddleware() {
	r.engine.Use(r.middlewareManager.GinRequestIDMiddleware())
	r.engine.Use(r.middlewareManager.GinLoggingMiddleware())
	r.engine.Use(r.middlewareManager.GinRecoveryMiddleware())
}

// registerRoutes 注册路由
func (r *Router) registerRoutes() {
	prefix := "/api/v1"
	if r.config.Server != nil && r.config.Server.Prefix != "" {
		prefix = r.config.Server.Prefix
	}
	v1 := r.engine.Group(prefix)

	r.setupHealthRoutes(r.engine.Group(""))
	r.setupMetricsRoutes(r.engine.Group(""))
	r.setupScanRoutes(v1)

	logger.WithFields(map[string]interface{}{
		"path":      "router_manager.registerRoutes",
		"operation": "register_routes",
		"prefix":    prefix,
		"routes":    len(r.engine.Routes()),
	}).Info("路由注册完成")
}
