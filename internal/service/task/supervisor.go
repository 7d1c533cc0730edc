/**
 * 任务监督者
 * @author: sun977
 * @date: 2026.10.14
 * @description: 驱动 pending -> running -> {finished, failed, stopped} 状态机，
 *               是任务记录的唯一写入方，并保证登记表清理一定执行
 */
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"neoaudit/internal/core/runner"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/monitor"
	"neoaudit/internal/pkg/risk"
	scanRepo "neoaudit/internal/repo/mysql/scan"
	"neoaudit/internal/service/postscan"
)

const (
	// 写库使用独立超时，不受任务取消影响
	persistTimeout = 10 * time.Second
	// 每次写库最多尝试的次数，每次使用新的上下文
	persistAttempts = 2
)

// Supervisor 任务监督者
type Supervisor struct {
	registry *Registry
	repo     scanRepo.ScanTaskRepository
	runners  *runner.RunnerManager
	pipeline *postscan.Pipeline
	metrics  *monitor.Metrics

	wg         sync.WaitGroup
	now        func() time.Time
	retryDelay time.Duration
}

// NewSupervisor 创建监督者，pipeline 与 metrics 可为 nil
func NewSupervisor(registry *Registry, repo scanRepo.ScanTaskRepository, runners *runner.RunnerManager, pipeline *postscan.Pipeline, metrics *monitor.Metrics) *Supervisor {
	return &Supervisor{
		registry:   registry,
		repo:       repo,
		runners:    runners,
		pipeline:   pipeline,
		metrics:    metrics,
		now:        time.Now,
		retryDelay: 500 * time.Millisecond,
	}
}

// Start 异步监督一个已登记的任务
func (s *Supervisor) Start(h *Handle, task *scan.ScanTask) {
	s.wg.Add(1)
	go s.Supervise(h, task)
}

// Wait 等待所有监督协程结束
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// WaitContext 等待所有监督协程结束或 ctx 到期
func (s *Supervisor) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supervise 同步执行任务直到终态
func (s *Supervisor) Supervise(h *Handle, task *scan.ScanTask) {
	defer s.wg.Done()
	defer s.registry.Cleanup(task.ID)

	start := s.now()
	if err := s.persist(func(ctx context.Context) error { return s.repo.MarkRunning(ctx, task.ID, start) }); err != nil {
		logger.LogSystemEvent("Supervisor", "MarkRunning", err.Error(), logger.ErrorLevel, map[string]interface{}{"task_id": task.ID})
		s.abort(task.ID, fmt.Sprintf("persist running state: %v", err), err)
		return
	}
	task.Status = scan.TaskStatusRunning
	task.StartTime = &start
	s.metrics.TaskStarted()
	logger.LogScanOperation(task.ID, string(task.ScanType), task.Target, string(scan.TaskStatusRunning), 0, "", 0, map[string]interface{}{"run_id": h.RunID()})

	progress := newProgressTracker(task.ID, s.repo)
	res, err := s.execute(h, task, progress)

	end := s.now()
	update := &scan.TerminalUpdate{
		EndTime:  end,
		Duration: end.Sub(start).Seconds(),
	}

	switch {
	case h.ShouldStop():
		update.Status = scan.TaskStatusStopped
		update.FinishReason = scan.FinishReasonStopped
	case err != nil:
		update.Status = scan.TaskStatusFailed
		update.FinishReason = scan.FinishReasonError
		update.ErrorMessage = err.Error()
	default:
		s.complete(task, res, start, end, update)
	}

	if err := s.persist(func(ctx context.Context) error { return s.repo.FinalizeTask(ctx, task.ID, update) }); err != nil {
		logger.LogSystemEvent("Supervisor", "FinalizeTask", err.Error(), logger.ErrorLevel, map[string]interface{}{
			"task_id": task.ID,
			"status":  update.Status,
		})
		message := fmt.Sprintf("persist %s state: %v", update.Status, err)
		if !s.abort(task.ID, message, err) {
			return
		}
		update = &scan.TerminalUpdate{
			Status:       scan.TaskStatusFailed,
			FinishReason: scan.FinishReasonError,
			EndTime:      update.EndTime,
			Duration:     update.Duration,
			ErrorMessage: message,
		}
	}

	s.metrics.TaskFinished(string(task.ScanType), string(update.Status), string(update.FinishReason), update.Duration)
	logProgress := progress.Last()
	if update.Status == scan.TaskStatusFinished {
		logProgress = 100
	}
	logger.LogScanOperation(task.ID, string(task.ScanType), task.Target, string(update.Status), logProgress,
		string(update.FinishReason), end.Sub(start), map[string]interface{}{
			"run_id": h.RunID(),
			"error":  update.ErrorMessage,
		})
}

// execute 调用策略，panic 与未知扫描类型统一转为 error
func (s *Supervisor) execute(h *Handle, task *scan.ScanTask, progress *progressTracker) (res *runner.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"task_id": task.ID,
				"stack":   string(debug.Stack()),
			}).Error("scan runner panicked")
			res, err = nil, fmt.Errorf("runner panic: %v", r)
		}
	}()

	r, err := s.runners.Get(task.ScanType)
	if err != nil {
		return nil, err
	}
	res, err = r.Run(h.Context(), &runner.Execution{
		TaskID:   task.ID,
		Target:   task.Target,
		Config:   task.ConfigMap(),
		Stop:     runner.StopFunc(h.CheckStop),
		Progress: progress,
	})
	if err == nil && res == nil {
		res = &runner.Result{Findings: []scan.Finding{}, Reason: scan.FinishReasonCompleted}
	}
	return res, err
}

// complete 正常完成路径：评分 -> 报告 -> 工单 -> 通知，后处理失败不影响终态
func (s *Supervisor) complete(task *scan.ScanTask, res *runner.Result, start, end time.Time, update *scan.TerminalUpdate) {
	findings := res.Findings
	if findings == nil {
		findings = []scan.Finding{}
	}
	result := risk.Score(findings)

	update.Status = scan.TaskStatusFinished
	update.FinishReason = res.Reason
	if update.FinishReason == "" {
		update.FinishReason = scan.FinishReasonCompleted
	}
	update.Risk = &result

	if data, err := json.Marshal(findings); err == nil {
		update.Vulnerabilities = string(data)
	} else {
		logger.Errorf("marshal findings of task %d: %v", task.ID, err)
	}

	s.metrics.FindingsRecorded(string(task.ScanType), map[string]int{
		string(scan.SeverityCritical): result.Summary.Critical,
		string(scan.SeverityHigh):     result.Summary.High,
		string(scan.SeverityMedium):   result.Summary.Medium,
		string(scan.SeverityLow):      result.Summary.Low,
		string(scan.SeverityInfo):     result.Summary.Info,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*persistTimeout)
	defer cancel()
	update.ReportContent = s.pipeline.Run(ctx, &postscan.Input{
		TaskID:       task.ID,
		ScanType:     task.ScanType,
		Target:       task.Target,
		Findings:     findings,
		Risk:         result,
		FinishReason: update.FinishReason,
		Warnings:     res.Warnings,
		StartTime:    start,
		EndTime:      end,
	})
}

// persist 写库失败时换新上下文重试，状态冲突与任务不存在不重试
func (s *Supervisor) persist(fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = fn(ctx)
		cancel()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < persistAttempts {
			logger.Warnf("persist task state failed, retrying: %v", err)
			time.Sleep(s.retryDelay)
		}
	}
	return err
}

func retryable(err error) bool {
	return !errors.Is(err, scan.ErrIllegalTransition) && !errors.Is(err, scanRepo.ErrTaskNotFound)
}

// abort 兜底将任务置为 failed，返回是否写入成功
// cause 为状态冲突时任务已被其他写入方终结，不再处理
func (s *Supervisor) abort(id uint64, message string, cause error) bool {
	if !retryable(cause) {
		return false
	}
	err := s.persist(func(ctx context.Context) error { return s.repo.AbortTask(ctx, id, message, s.now()) })
	if err != nil {
		logger.LogSystemEvent("Supervisor", "AbortTask", err.Error(), logger.ErrorLevel, map[string]interface{}{"task_id": id})
		return false
	}
	return true
}

// progressTracker 进度上报：限制在 0-100，丢弃回退值，只在任务 running 时写库
type progressTracker struct {
	mu   sync.Mutex
	id   uint64
	last int
	repo scanRepo.ScanTaskRepository
}

func newProgressTracker(id uint64, repo scanRepo.ScanTaskRepository) *progressTracker {
	return &progressTracker{id: id, repo: repo}
}

// Report 实现 runner.ProgressReporter
func (p *progressTracker) Report(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if progress <= p.last {
		return
	}
	p.last = progress

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.repo.UpdateProgress(ctx, p.id, progress); err != nil {
		logger.Warnf("update progress of task %d: %v", p.id, err)
	}
}

// Last 最近一次上报的进度
func (p *progressTracker) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
