package runner

import (
	"context"

	"neoaudit/internal/model/scan"
)

// StopChecker 停止信号读取，非阻塞
type StopChecker interface {
	ShouldStop() bool
}

// StopFunc 函数适配 StopChecker
type StopFunc func() bool

func (f StopFunc) ShouldStop() bool {
	if f == nil {
		return false
	}
	return f()
}

// ProgressReporter 进度上报通道，Runner 不直接修改任务记录
type ProgressReporter interface {
	Report(progress int)
}

// ProgressFunc 函数适配 ProgressReporter
type ProgressFunc func(progress int)

func (f ProgressFunc) Report(progress int) {
	if f != nil {
		f(progress)
	}
}

// Execution 一次扫描执行的输入
type Execution struct {
	TaskID   uint64
	Target   string
	Config   map[string]interface{}
	Stop     StopChecker
	Progress ProgressReporter
}

// shouldStop nil 安全
func (e *Execution) shouldStop() bool {
	return e.Stop != nil && e.Stop.ShouldStop()
}

// report nil 安全
func (e *Execution) report(progress int) {
	if e.Progress != nil {
		e.Progress.Report(progress)
	}
}

// Result 扫描输出
type Result struct {
	Findings []scan.Finding
	Reason   scan.FinishReason // completed / timeout / degraded / stopped
	Warnings []string
}

// Stopped 是否因停止信号提前返回
func (r *Result) Stopped() bool {
	return r != nil && r.Reason == scan.FinishReasonStopped
}

// degrade 记录一条降级告警，已有更强的结束原因时不覆盖
func (r *Result) degrade(warning string) {
	r.Warnings = append(r.Warnings, warning)
	if r.Reason == scan.FinishReasonCompleted || r.Reason == "" {
		r.Reason = scan.FinishReasonDegraded
	}
}

func newResult() *Result {
	return &Result{Findings: []scan.Finding{}, Reason: scan.FinishReasonCompleted}
}

// Runner 定义了扫描策略的通用接口
type Runner interface {
	// Name 返回 Runner 对应的扫描类型
	Name() scan.ScanType

	// Run 执行扫描
	// ctx: 取消兜底，停止请求未被检查点观察到时由 Registry 取消
	// 返回的 error 只代表执行异常，工具不可用/超时已在内部降级处理
	Run(ctx context.Context, exec *Execution) (*Result, error)
}
