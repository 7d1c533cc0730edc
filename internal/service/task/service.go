/**
 * 扫描任务服务
 * @author: sun977
 * @date: 2026.10.14
 * @description: 边界层门面：创建、停止、查询任务，启动时回收遗留任务
 * @func:
 *  1. CreateTask 校验 -> 落库 pending -> 登记 -> 启动监督协程
 *  2. StopTask 发出停止信号
 *  3. GetTaskStatus / GetTask / ListTasks 查询
 *  4. RecoverOrphans / Shutdown 生命周期
 */
package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/monitor"
	"neoaudit/internal/pkg/utils"
	scanRepo "neoaudit/internal/repo/mysql/scan"
)

// OrphanMessage 遗留任务的错误信息
const OrphanMessage = "interrupted by process restart"

// ErrInvalidRequest 请求参数错误
var ErrInvalidRequest = errors.New("invalid request")

// 扫描类型只做语法校验，未知类型在执行时失败
var scanTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	ScanType string                 `json:"scan_type" binding:"required"`
	Target   string                 `json:"target" binding:"required"`
	Config   map[string]interface{} `json:"config"`
}

// TaskStatusView 任务状态
type TaskStatusView struct {
	ID           uint64            `json:"id"`
	Status       scan.TaskStatus   `json:"status"`
	Progress     int               `json:"progress"`
	ErrorMessage string            `json:"error_message,omitempty"`
	FinishReason scan.FinishReason `json:"finish_reason,omitempty"`
}

// ScanTaskService 扫描任务服务接口
type ScanTaskService interface {
	CreateTask(ctx context.Context, req *CreateTaskRequest) (uint64, error)
	StopTask(ctx context.Context, id uint64) (bool, error)
	GetTaskStatus(ctx context.Context, id uint64) (*TaskStatusView, error)
	GetTask(ctx context.Context, id uint64) (*scan.ScanTask, error)
	ListTasks(ctx context.Context, status scan.TaskStatus, page, pageSize int) ([]*scan.ScanTask, int64, error)

	RecoverOrphans(ctx context.Context) (int64, error)
	Shutdown(ctx context.Context) error
	Wait()
}

// scanTaskService 扫描任务服务实现
type scanTaskService struct {
	repo       scanRepo.ScanTaskRepository
	registry   *Registry
	supervisor *Supervisor
	guard      *utils.TargetGuard
	metrics    *monitor.Metrics

	// 任务执行的根上下文，与 HTTP 请求生命周期无关
	baseCtx context.Context
}

// NewScanTaskService 创建服务
// guard 为 nil 时不做目标网段校验
func NewScanTaskService(repo scanRepo.ScanTaskRepository, registry *Registry, supervisor *Supervisor, guard *utils.TargetGuard, metrics *monitor.Metrics) ScanTaskService {
	return &scanTaskService{
		repo:       repo,
		registry:   registry,
		supervisor: supervisor,
		guard:      guard,
		metrics:    metrics,
		baseCtx:    context.Background(),
	}
}

// CreateTask 创建并调度任务
func (s *scanTaskService) CreateTask(ctx context.Context, req *CreateTaskRequest) (uint64, error) {
	if req == nil {
		return 0, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	scanType := strings.TrimSpace(req.ScanType)
	target := strings.TrimSpace(req.Target)
	if !scanTypePattern.MatchString(scanType) {
		return 0, fmt.Errorf("%w: malformed scan_type %q", ErrInvalidRequest, req.ScanType)
	}
	if target == "" {
		return 0, fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	// 目标会作为外部工具的参数
	if strings.HasPrefix(target, "-") || strings.ContainsRune(target, 0) {
		return 0, fmt.Errorf("%w: malformed target %q", ErrInvalidRequest, req.Target)
	}

	// 依赖扫描的目标是本地路径，不做网段校验
	if s.guard != nil && scan.ScanType(scanType) != scan.ScanTypeDependency {
		if err := s.guard.Check(ctx, target); err != nil {
			return 0, err
		}
	}

	task := &scan.ScanTask{
		ScanType: scan.ScanType(scanType),
		Target:   target,
	}
	if err := task.SetConfigMap(req.Config); err != nil {
		return 0, fmt.Errorf("%w: config: %v", ErrInvalidRequest, err)
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}

	h, err := s.registry.Register(s.baseCtx, task.ID)
	if err != nil {
		return 0, fmt.Errorf("register task %d: %w", task.ID, err)
	}
	s.supervisor.Start(h, task)

	logger.LogScanOperation(task.ID, scanType, target, string(scan.TaskStatusPending), 0, "", 0, nil)
	return task.ID, nil
}

// StopTask 发出停止信号，返回信号是否送达
func (s *scanTaskService) StopTask(ctx context.Context, id uint64) (bool, error) {
	delivered := s.registry.RequestStop(id)
	s.metrics.StopRequested(delivered)
	if delivered {
		logger.LogSystemEvent("TaskService", "StopTask", fmt.Sprintf("stop signal delivered to task %d", id), logger.InfoLevel, nil)
		return true, nil
	}
	if _, err := s.repo.GetTaskByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// GetTaskStatus 查询状态与进度
func (s *scanTaskService) GetTaskStatus(ctx context.Context, id uint64) (*TaskStatusView, error) {
	task, err := s.repo.GetTaskByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskStatusView{
		ID:           task.ID,
		Status:       task.Status,
		Progress:     task.Progress,
		ErrorMessage: task.ErrorMessage,
		FinishReason: task.FinishReason,
	}, nil
}

// GetTask 查询完整记录
func (s *scanTaskService) GetTask(ctx context.Context, id uint64) (*scan.ScanTask, error) {
	return s.repo.GetTaskByID(ctx, id)
}

// ListTasks 分页查询
func (s *scanTaskService) ListTasks(ctx context.Context, status scan.TaskStatus, page, pageSize int) ([]*scan.ScanTask, int64, error) {
	return s.repo.ListTasks(ctx, status, page, pageSize)
}

// RecoverOrphans 将没有存活登记的 pending/running 任务置为 failed
func (s *scanTaskService) RecoverOrphans(ctx context.Context) (int64, error) {
	n, err := s.repo.FailOrphanedTasks(ctx, OrphanMessage, s.registry.Active())
	if err != nil {
		return 0, fmt.Errorf("recover orphaned tasks: %w", err)
	}
	if n > 0 {
		logger.LogSystemEvent("TaskService", "RecoverOrphans", fmt.Sprintf("%d orphaned tasks marked failed", n), logger.WarnLevel, nil)
	}
	return n, nil
}

// Shutdown 向全部活动任务发出停止信号并等待监督协程退出
func (s *scanTaskService) Shutdown(ctx context.Context) error {
	for _, id := range s.registry.Active() {
		s.registry.RequestStop(id)
	}
	return s.supervisor.WaitContext(ctx)
}

// Wait 等待全部任务结束
func (s *scanTaskService) Wait() {
	s.supervisor.Wait()
}
