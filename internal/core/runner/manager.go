package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"neoaudit/internal/model/scan"
)

// ErrUnknownScanType 未注册的扫描类型
var ErrUnknownScanType = errors.New("unknown scan type")

// RunnerManager 管理所有的 Runner
type RunnerManager struct {
	runners map[scan.ScanType]Runner
	mu      sync.RWMutex
}

// NewRunnerManager 创建空的管理器，由 app 层注册具体策略
func NewRunnerManager(runners ...Runner) *RunnerManager {
	m := &RunnerManager{
		runners: make(map[scan.ScanType]Runner),
	}
	for _, r := range runners {
		m.Register(r)
	}
	return m
}

// Register 注册一个 Runner
func (m *RunnerManager) Register(runner Runner) {
	if runner == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners[runner.Name()] = runner
}

// Get 获取指定类型的 Runner
func (m *RunnerManager) Get(scanType scan.ScanType) (Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if runner, ok := m.runners[scanType]; ok {
		return runner, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScanType, scanType)
}

// Types 已注册的扫描类型
func (m *RunnerManager) Types() []scan.ScanType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]scan.ScanType, 0, len(m.runners))
	for t := range m.runners {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Execute 执行任务
func (m *RunnerManager) Execute(ctx context.Context, scanType scan.ScanType, exec *Execution) (*Result, error) {
	runner, err := m.Get(scanType)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, exec)
}
