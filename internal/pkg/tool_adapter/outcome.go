// Package tool_adapter 外部工具调用适配层
// 命令行工具与 HTTP 守护进程的调用结果统一为 Outcome，调用方只需判断 Kind，
// 本包的任何入口都不会向上返回 error 或 panic
package tool_adapter

import (
	"fmt"
	"sync"
	"time"

	"neoaudit/internal/pkg/logger"
)

// Kind 调用结果类型
type Kind string

const (
	KindOK       Kind = "ok"        // 正常返回（含非零退出但有输出）
	KindTimeout  Kind = "timeout"   // 超时
	KindNotFound Kind = "not_found" // 工具不存在 / 守护进程不可达
	KindError    Kind = "error"     // 其他错误
)

// Outcome 一次工具调用的结果
type Outcome struct {
	Tool     string
	Kind     Kind
	Output   []byte // stdout 原始输出
	Stderr   string // stderr 摘要
	ExitCode int
	Err      error
	Duration time.Duration
}

// OK 是否正常返回
func (o *Outcome) OK() bool {
	return o != nil && o.Kind == KindOK
}

// Message 便于日志记录的简短描述
func (o *Outcome) Message() string {
	if o == nil {
		return ""
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return string(o.Kind)
}

func (o *Outcome) String() string {
	return fmt.Sprintf("%s: %s (%s)", o.Tool, o.Kind, o.Duration.Round(time.Millisecond))
}

// Recorder 调用结果记录器，monitor.Metrics 实现该接口
type Recorder interface {
	ToolInvoked(tool, outcome string)
}

var (
	recorderMu sync.RWMutex
	recorder   Recorder
)

// SetRecorder 设置全局记录器，传 nil 关闭
func SetRecorder(r Recorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	recorder = r
}

// observe 记录日志与指标
func observe(o *Outcome) {
	logger.LogToolInvocation(o.Tool, string(o.Kind), o.Duration, o.ExitCode, o.Message(), nil)

	recorderMu.RLock()
	r := recorder
	recorderMu.RUnlock()
	if r != nil {
		r.ToolInvoked(o.Tool, string(o.Kind))
	}
}
