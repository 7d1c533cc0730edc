/**
 * 扫描后处理流水线
 * @author: sun977
 * @date: 2026.10.14
 * @description: 报告 -> 工单 -> 通知，逐级独立兜底，任何一步失败都不影响任务终态
 */
package postscan

import (
	"context"
	"fmt"
	"time"

	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
)

// 流水线阶段名，用于日志与指标
const (
	StageReport = "report"
	StageTicket = "ticket"
	StageNotify = "notify"
)

// Input 已完成任务的处理输入
type Input struct {
	TaskID       uint64            `json:"task_id"`
	ScanType     scan.ScanType     `json:"scan_type"`
	Target       string            `json:"target"`
	Findings     []scan.Finding    `json:"findings"`
	Risk         scan.RiskResult   `json:"risk"`
	FinishReason scan.FinishReason `json:"finish_reason"`
	Warnings     []string          `json:"warnings,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
}

// Duration 任务耗时
func (in *Input) Duration() time.Duration {
	return in.EndTime.Sub(in.StartTime)
}

// ReportRenderer 报告渲染
type ReportRenderer interface {
	Render(ctx context.Context, in *Input) (string, error)
}

// TicketCreator 缺陷工单创建，只接收达到阈值的发现
type TicketCreator interface {
	Create(ctx context.Context, taskID uint64, target string, findings []scan.Finding) error
}

// Notifier 结果通知
type Notifier interface {
	Notify(ctx context.Context, in *Input) error
}

// FailureRecorder 阶段失败记录，monitor.Metrics 实现该接口
type FailureRecorder interface {
	PostScanFailed(stage string)
}

// Pipeline 后处理流水线
type Pipeline struct {
	renderer    ReportRenderer
	tickets     TicketCreator
	notifier    Notifier
	minSeverity scan.Severity
	recorder    FailureRecorder
}

// NewPipeline 创建流水线，任意阶段可为 nil
func NewPipeline(renderer ReportRenderer, tickets TicketCreator, notifier Notifier, minSeverity scan.Severity) *Pipeline {
	if !minSeverity.Valid() {
		minSeverity = scan.SeverityHigh
	}
	return &Pipeline{
		renderer:    renderer,
		tickets:     tickets,
		notifier:    notifier,
		minSeverity: minSeverity,
	}
}

// WithRecorder 设置失败记录器
func (p *Pipeline) WithRecorder(r FailureRecorder) *Pipeline {
	p.recorder = r
	return p
}

// Run 顺序执行各阶段，返回渲染出的报告（失败时为空）
func (p *Pipeline) Run(ctx context.Context, in *Input) string {
	if p == nil || in == nil {
		return ""
	}

	var report string
	if p.renderer != nil {
		p.guard(in, StageReport, func() error {
			var err error
			report, err = p.renderer.Render(ctx, in)
			return err
		})
	}

	if p.tickets != nil {
		if qualified := FilterBySeverity(in.Findings, p.minSeverity); len(qualified) > 0 {
			p.guard(in, StageTicket, func() error {
				return p.tickets.Create(ctx, in.TaskID, in.Target, qualified)
			})
		}
	}

	if p.notifier != nil {
		p.guard(in, StageNotify, func() error {
			return p.notifier.Notify(ctx, in)
		})
	}
	return report
}

// guard 执行单个阶段，错误与 panic 都只记录
func (p *Pipeline) guard(in *Input, stage string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	logger.LogSystemEvent("PostScan", stage, err.Error(), logger.WarnLevel, map[string]interface{}{
		"task_id": in.TaskID,
		"target":  in.Target,
	})
	if p.recorder != nil {
		p.recorder.PostScanFailed(stage)
	}
}

// FilterBySeverity 过滤出不低于 min 的发现
func FilterBySeverity(findings []scan.Finding, min scan.Severity) []scan.Finding {
	var out []scan.Finding
	for _, f := range findings {
		if f.Severity.AtLeast(min) {
			out = append(out, f)
		}
	}
	return out
}
