/**
 * 中间件:日志相关中间件
 * @author: sun977
 * @date: 2026.10.15
 * @description: 定义请求ID、访问日志与panic恢复中间件
 * @func:
 *   - GinRequestIDMiddleware 请求ID中间件
 *   - GinLoggingMiddleware 访问日志中间件
 *   - GinRecoveryMiddleware panic 恢复中间件，返回统一的 500 响应
 */
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"neoaudit/internal/model/base"
	"neoaudit/internal/pkg/logger"
)

// RequestIDHeader 请求ID响应头
const RequestIDHeader = "X-Request-ID"

// GinRequestIDMiddleware 请求ID中间件
// 优先沿用上游代理传入的请求ID
func (m *MiddlewareManager) GinRequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GinLoggingMiddleware 访问日志中间件
func (m *MiddlewareManager) GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogAccessRequest(c, start, c.GetString("request_id"))
	}
}

// GinRecoveryMiddleware panic 恢复中间件
func (m *MiddlewareManager) GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogError(fmt.Errorf("panic: %v", r), c.GetString("request_id"), c.Request.URL.Path, c.Request.Method, map[string]interface{}{
					"stack": string(debug.Stack()),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, base.APIResponse{
					Code:    http.StatusInternalServerError,
					Status:  "failed",
					Message: "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
