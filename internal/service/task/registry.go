/**
 * 任务登记表
 * @author: sun977
 * @date: 2026.10.14
 * @description: 维护活动任务的停止信号与取消句柄，每个进程构造一次并显式传递
 */
package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskAlreadyRegistered 同一任务同时只能登记一次
	ErrTaskAlreadyRegistered = errors.New("task already registered")
	// ErrTaskNotRegistered 任务未登记
	ErrTaskNotRegistered = errors.New("task not registered")
)

// Handle 一次登记对应的停止信号与取消句柄，不跨任务复用
type Handle struct {
	id     uint64
	runID  string
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopped  atomic.Bool
	acked    atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

// ID 任务 ID
func (h *Handle) ID() uint64 { return h.id }

// RunID 本次执行的唯一标识
func (h *Handle) RunID() string { return h.runID }

// Context 执行上下文，停止兜底时被取消
func (h *Handle) Context() context.Context { return h.ctx }

// ShouldStop 非阻塞读取停止信号
func (h *Handle) ShouldStop() bool { return h.stopped.Load() }

// Acknowledge 执行方已在检查点观察到停止信号，撤销取消兜底
func (h *Handle) Acknowledge() {
	if !h.stopped.Load() {
		return
	}
	h.acked.Store(true)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
}

// CheckStop 供执行方使用的检查点：读到停止信号即视为已确认
func (h *Handle) CheckStop() bool {
	if h.ShouldStop() {
		h.Acknowledge()
		return true
	}
	return false
}

// requestStop 置位一次性信号，grace 内未被确认则取消 ctx
func (h *Handle) requestStop(grace time.Duration) {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		if grace <= 0 {
			h.cancel()
			return
		}
		h.mu.Lock()
		h.timer = time.AfterFunc(grace, func() {
			if !h.acked.Load() {
				h.cancel()
			}
		})
		h.mu.Unlock()
	})
}

// release 释放资源
func (h *Handle) release() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.cancel()
}

// Registry 活动任务登记表
type Registry struct {
	mu        sync.Mutex
	tasks     map[uint64]*Handle
	stopGrace time.Duration
}

// NewRegistry 创建登记表
// stopGrace 为停止信号发出后等待检查点确认的时间，超时后取消执行上下文
func NewRegistry(stopGrace time.Duration) *Registry {
	return &Registry{
		tasks:     make(map[uint64]*Handle),
		stopGrace: stopGrace,
	}
}

// Register 登记任务，已存在时返回 ErrTaskAlreadyRegistered
func (r *Registry) Register(parent context.Context, id uint64) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; exists {
		return nil, ErrTaskAlreadyRegistered
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		id:     id,
		runID:  uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
	r.tasks[id] = h
	return h, nil
}

// RequestStop 发出停止信号，未登记的任务返回 false
func (r *Registry) RequestStop(id uint64) bool {
	r.mu.Lock()
	h, exists := r.tasks[id]
	r.mu.Unlock()
	if !exists {
		return false
	}
	h.requestStop(r.stopGrace)
	return true
}

// ShouldStop 读取停止信号，未登记的任务返回 false
func (r *Registry) ShouldStop(id uint64) bool {
	r.mu.Lock()
	h, exists := r.tasks[id]
	r.mu.Unlock()
	return exists && h.ShouldStop()
}

// Get 获取句柄
func (r *Registry) Get(id uint64) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, exists := r.tasks[id]
	if !exists {
		return nil, ErrTaskNotRegistered
	}
	return h, nil
}

// Cleanup 移除登记并释放句柄，重复调用无副作用
func (r *Registry) Cleanup(id uint64) {
	r.mu.Lock()
	h, exists := r.tasks[id]
	delete(r.tasks, id)
	r.mu.Unlock()
	if exists {
		h.release()
	}
}

// Active 当前登记的任务 ID
func (r *Registry) Active() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 活动任务数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
