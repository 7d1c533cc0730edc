// 结构化日志辅助方法
package logger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FormatTimestamp 格式化时间戳为统一的毫秒精度格式
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampFormat)
}

// LogType 日志类型枚举
type LogType string

const (
	// AccessLog 访问日志 - 记录HTTP请求
	AccessLog LogType = "access"
	// ErrorLog 错误日志 - 记录系统错误和异常
	ErrorLog LogType = "error"
	// SystemLog 系统日志 - 记录组件启停、配置变更
	SystemLog LogType = "system"
	// ScanLog 扫描日志 - 记录任务生命周期
	ScanLog LogType = "scan"
	// ToolLog 工具日志 - 记录外部工具调用结果
	ToolLog LogType = "tool"
)

// LogLevel 日志级别类型，封装logrus.Level避免业务层直接依赖logrus
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// toLogrusLevel 将封装的LogLevel转换为logrus.Level
func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func mergeFields(fields logrus.Fields, extra map[string]interface{}) logrus.Fields {
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// LogAccessRequest 记录HTTP访问日志
func LogAccessRequest(c *gin.Context, startTime time.Time, requestID string) {
	if LoggerInstance == nil {
		return
	}
	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":          AccessLog,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"query":         c.Request.URL.RawQuery,
		"status_code":   c.Writer.Status(),
		"response_time": time.Since(startTime).Milliseconds(),
		"client_ip":     c.ClientIP(),
		"user_agent":    c.Request.UserAgent(),
		"request_id":    requestID,
		"request_size":  c.Request.ContentLength,
		"response_size": c.Writer.Size(),
	}).Info("HTTP request processed")
}

// LogError 记录错误日志
func LogError(err error, requestID, path, method string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || err == nil {
		return
	}
	fields := mergeFields(logrus.Fields{
		"type":       ErrorLog,
		"error":      err.Error(),
		"request_id": requestID,
		"path":       path,
		"method":     method,
	}, extraFields)
	LoggerInstance.logger.WithFields(fields).Errorf("System error occurred: %s", err.Error())
}

// LogSystemEvent 记录系统事件日志
// 用于记录系统启动、关闭、组件状态变化等系统级事件
func LogSystemEvent(component, event, message string, level LogLevel, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}
	lv := toLogrusLevel(level)
	fields := mergeFields(logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
		"detail":    message,
	}, extraFields)
	LoggerInstance.logger.WithFields(fields).Log(lv, fmt.Sprintf("System event: %s - %s", component, event))
}

// LogScanOperation 记录扫描任务生命周期日志
// status 取任务状态，running 为调试级别，failed 为错误级别
func LogScanOperation(taskID uint64, scanType, target, status string, progress int, result string, duration time.Duration, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}
	fields := mergeFields(logrus.Fields{
		"type":      ScanLog,
		"task_id":   taskID,
		"scan_type": scanType,
		"target":    target,
		"status":    status,
		"progress":  progress,
		"result":    result,
		"duration":  duration.Milliseconds(),
	}, extraFields)

	entry := LoggerInstance.logger.WithFields(fields)
	switch status {
	case "finished":
		entry.Info(fmt.Sprintf("Scan finished: %s on %s", scanType, target))
	case "failed":
		entry.Error(fmt.Sprintf("Scan failed: %s on %s", scanType, target))
	case "running":
		entry.Debug(fmt.Sprintf("Scan running: %s on %s (%d%%)", scanType, target, progress))
	default:
		entry.Info(fmt.Sprintf("Scan %s: %s on %s", status, scanType, target))
	}
}

// LogToolInvocation 记录外部工具调用结果
// outcome 为 ok 时调试级别，其余为警告级别
func LogToolInvocation(tool, outcome string, duration time.Duration, exitCode int, message string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}
	fields := mergeFields(logrus.Fields{
		"type":      ToolLog,
		"tool":      tool,
		"outcome":   outcome,
		"duration":  duration.Milliseconds(),
		"exit_code": exitCode,
		"detail":    message,
	}, extraFields)

	entry := LoggerInstance.logger.WithFields(fields)
	if outcome == "ok" {
		entry.Debug(fmt.Sprintf("Tool %s completed", tool))
		return
	}
	entry.Warn(fmt.Sprintf("Tool %s returned %s", tool, outcome))
}
