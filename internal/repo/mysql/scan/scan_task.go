/**
 * @title: ScanTaskRepository
 * @author: sun977
 * @date: 2026.10.14
 * @description: 扫描任务仓库，状态迁移全部使用条件更新，保证终态只写入一次
 * @func:
 * - CreateTask / GetTaskByID / ListTasks 基础读写
 * - MarkRunning / UpdateProgress / FinalizeTask 状态机落库
 * - AbortTask 状态写入失败后的兜底
 * - FailOrphanedTasks 进程重启后的遗留任务回收
 */
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	scanModel "neoaudit/internal/model/scan"
)

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("scan task not found")

// ScanTaskRepository 扫描任务仓库接口
type ScanTaskRepository interface {
	CreateTask(ctx context.Context, task *scanModel.ScanTask) error
	GetTaskByID(ctx context.Context, id uint64) (*scanModel.ScanTask, error)
	ListTasks(ctx context.Context, status scanModel.TaskStatus, page, pageSize int) ([]*scanModel.ScanTask, int64, error)

	MarkRunning(ctx context.Context, id uint64, startTime time.Time) error              // pending -> running
	UpdateProgress(ctx context.Context, id uint64, progress int) error                  // 仅 running 且进度前进时生效
	FinalizeTask(ctx context.Context, id uint64, update *scanModel.TerminalUpdate) error // running -> 终态
	AbortTask(ctx context.Context, id uint64, message string, endTime time.Time) error   // pending/running -> failed
	FailOrphanedTasks(ctx context.Context, message string, exclude []uint64) (int64, error)
}

type scanTaskRepository struct {
	db *gorm.DB
}

// NewScanTaskRepository 创建扫描任务仓库
func NewScanTaskRepository(db *gorm.DB) ScanTaskRepository {
	return &scanTaskRepository{
		db: db,
	}
}

// CreateTask 创建任务，状态强制为 pending
func (r *scanTaskRepository) CreateTask(ctx context.Context, task *scanModel.ScanTask) error {
	task.Status = scanModel.TaskStatusPending
	task.Progress = 0
	if task.Config == "" {
		task.Config = "{}"
	}
	return r.db.WithContext(ctx).Create(task).Error
}

// GetTaskByID 获取指定任务
func (r *scanTaskRepository) GetTaskByID(ctx context.Context, id uint64) (*scanModel.ScanTask, error) {
	var task scanModel.ScanTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListTasks 分页查询，status 为空时不过滤
func (r *scanTaskRepository) ListTasks(ctx context.Context, status scanModel.TaskStatus, page, pageSize int) ([]*scanModel.ScanTask, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&scanModel.ScanTask{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []*scanModel.ScanTask
	err := query.
		Omit("vulnerabilities", "report_content").
		Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// MarkRunning pending -> running，写入开始时间
func (r *scanTaskRepository) MarkRunning(ctx context.Context, id uint64, startTime time.Time) error {
	result := r.db.WithContext(ctx).Model(&scanModel.ScanTask{}).
		Where("id = ? AND status = ?", id, scanModel.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     scanModel.TaskStatusRunning,
			"start_time": startTime,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionError(ctx, id, scanModel.TaskStatusRunning)
	}
	return nil
}

// UpdateProgress 进度只增不减，非 running 状态忽略
func (r *scanTaskRepository) UpdateProgress(ctx context.Context, id uint64, progress int) error {
	return r.db.WithContext(ctx).Model(&scanModel.ScanTask{}).
		Where("id = ? AND status = ? AND progress < ?", id, scanModel.TaskStatusRunning, progress).
		Update("progress", progress).Error
}

// FinalizeTask running -> finished/failed/stopped
// 条件更新保证并发下只有一次终态写入成功，其余返回 ErrIllegalTransition
func (r *scanTaskRepository) FinalizeTask(ctx context.Context, id uint64, update *scanModel.TerminalUpdate) error {
	if update == nil || !scanModel.CanTransition(scanModel.TaskStatusRunning, update.Status) {
		return scanModel.ErrIllegalTransition
	}

	updates := map[string]interface{}{
		"status":        update.Status,
		"finish_reason": update.FinishReason,
		"end_time":      update.EndTime,
		"duration":      update.Duration,
		"error_message": update.ErrorMessage,
	}
	if update.Status == scanModel.TaskStatusFinished {
		updates["progress"] = 100
		updates["vulnerabilities"] = update.Vulnerabilities
		updates["report_content"] = update.ReportContent
		if update.Risk != nil {
			summary, err := json.Marshal(update.Risk.Summary)
			if err != nil {
				return fmt.Errorf("marshal vuln summary: %w", err)
			}
			updates["risk_score"] = update.Risk.Score
			updates["risk_level"] = string(update.Risk.Level)
			updates["vuln_summary"] = string(summary)
		}
	}

	result := r.db.WithContext(ctx).Model(&scanModel.ScanTask{}).
		Where("id = ? AND status = ?", id, scanModel.TaskStatusRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionError(ctx, id, update.Status)
	}
	return nil
}

// AbortTask 将未进入终态的任务置为 failed，不覆盖进度
func (r *scanTaskRepository) AbortTask(ctx context.Context, id uint64, message string, endTime time.Time) error {
	result := r.db.WithContext(ctx).Model(&scanModel.ScanTask{}).
		Where("id = ? AND status IN ?", id, []scanModel.TaskStatus{scanModel.TaskStatusPending, scanModel.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":        scanModel.TaskStatusFailed,
			"finish_reason": scanModel.FinishReasonError,
			"error_message": message,
			"end_time":      endTime,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionError(ctx, id, scanModel.TaskStatusFailed)
	}
	return nil
}

// FailOrphanedTasks 将没有存活登记的 pending/running 任务置为 failed
func (r *scanTaskRepository) FailOrphanedTasks(ctx context.Context, message string, exclude []uint64) (int64, error) {
	query := r.db.WithContext(ctx).Model(&scanModel.ScanTask{}).
		Where("status IN ?", []scanModel.TaskStatus{scanModel.TaskStatusPending, scanModel.TaskStatusRunning})
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	result := query.Updates(map[string]interface{}{
		"status":        scanModel.TaskStatusFailed,
		"finish_reason": scanModel.FinishReasonError,
		"error_message": message,
		"end_time":      time.Now(),
	})
	return result.RowsAffected, result.Error
}

// transitionError 区分任务不存在与非法迁移
func (r *scanTaskRepository) transitionError(ctx context.Context, id uint64, to scanModel.TaskStatus) error {
	task, err := r.GetTaskByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s (task %d)", scanModel.ErrIllegalTransition, task.Status, to, id)
}
