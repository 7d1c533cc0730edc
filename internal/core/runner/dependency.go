/**
 * 依赖扫描策略
 * @author: sun977
 * @date: 2026.10.14
 * @description: 并行调用 pip-audit / bandit / npm audit / trivy，单个工具不可用只影响自身结果
 */
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/parser"
	"neoaudit/internal/pkg/tool_adapter/registry"
	"neoaudit/internal/pkg/utils"
)

const defaultToolTimeout = 10 * time.Minute

// DependencyTools 子工具固定顺序，结果按此顺序拼接
var DependencyTools = []string{parser.ToolPipAudit, parser.ToolBandit, parser.ToolNpmAudit, parser.ToolTrivy}

// 内置命令模板
var defaultDependencyTemplates = map[string]struct {
	binary string
	tmpl   string
}{
	parser.ToolPipAudit: {"pip-audit", "{{.Binary}} -r {{.Target}}/requirements.txt -f json"},
	parser.ToolBandit:   {"bandit", "{{.Binary}} -r {{.Target}} -f json -q"},
	parser.ToolNpmAudit: {"npm", "{{.Binary}} audit --json --prefix {{.Target}}"},
	parser.ToolTrivy:    {"trivy", "{{.Binary}} fs --format json --quiet {{.Target}}"},
}

// DependencyRunner dependency_scan 策略
type DependencyRunner struct {
	invoker tool_adapter.Invoker
	tools   *registry.ToolRegistry
	enabled []string
	timeout time.Duration
}

// NewDependencyRunner 创建依赖扫描策略
// cfg.Tools 中未出现的工具使用内置模板并默认启用
func NewDependencyRunner(invoker tool_adapter.Invoker, cfg *config.DependencyScanConfig) (*DependencyRunner, error) {
	r := &DependencyRunner{
		invoker: invoker,
		tools:   registry.NewToolRegistry(),
		timeout: defaultToolTimeout,
	}
	var overrides map[string]*config.ToolConfig
	if cfg != nil {
		if cfg.ToolTimeout > 0 {
			r.timeout = cfg.ToolTimeout
		}
		overrides = cfg.Tools
	}

	for _, name := range DependencyTools {
		def := defaultDependencyTemplates[name]
		binary, tmpl := def.binary, def.tmpl
		if tc, ok := overrides[name]; ok && tc != nil {
			if !tc.Enabled {
				continue
			}
			if tc.Binary != "" {
				binary = tc.Binary
			}
			if tc.Template != "" {
				tmpl = tc.Template
			}
		}
		if err := r.tools.RegisterTemplate(name, binary, tmpl, nil); err != nil {
			return nil, fmt.Errorf("dependency runner: %w", err)
		}
		r.enabled = append(r.enabled, name)
	}
	return r, nil
}

// Name 返回扫描类型
func (r *DependencyRunner) Name() scan.ScanType {
	return scan.ScanTypeDependency
}

// Tools 已启用的子工具
func (r *DependencyRunner) Tools() []string {
	return append([]string(nil), r.enabled...)
}

// Run 并行执行全部子工具
// 没有轮询检查点，停止请求通过 ctx 取消终止子进程
func (r *DependencyRunner) Run(ctx context.Context, exec *Execution) (*Result, error) {
	res := newResult()
	target := exec.Target

	tools := r.selectTools(exec.Config)
	if len(tools) == 0 {
		res.degrade("no dependency tools enabled")
		return res, nil
	}

	slots := make([][]scan.Finding, len(tools))
	warnings := make([]string, len(tools))

	var (
		mu   sync.Mutex
		done int
	)
	advance := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		exec.report(done * 100 / len(tools))
	}

	var g errgroup.Group
	for i, name := range tools {
		g.Go(func() error {
			defer advance()
			slots[i], warnings[i] = r.runTool(ctx, exec, name, target)
			return nil
		})
	}
	_ = g.Wait()

	for i := range tools {
		res.Findings = append(res.Findings, slots[i]...)
		if warnings[i] != "" {
			res.degrade(warnings[i])
		}
	}

	if exec.shouldStop() {
		res.Reason = scan.FinishReasonStopped
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// selectTools 任务配置 tools 可收窄启用的子工具
func (r *DependencyRunner) selectTools(cfg map[string]interface{}) []string {
	wanted := utils.MapStrings(cfg, "tools")
	if len(wanted) == 0 {
		return r.enabled
	}
	set := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		set[w] = true
	}
	var out []string
	for _, name := range r.enabled {
		if set[name] {
			out = append(out, name)
		}
	}
	return out
}

// runTool 执行单个子工具，任何失败都降级为零发现
func (r *DependencyRunner) runTool(ctx context.Context, exec *Execution, name, target string) ([]scan.Finding, string) {
	adapter, err := r.tools.Get(name)
	if err != nil {
		return nil, err.Error()
	}
	// 子工具命令不读取任务参数
	binary, args, err := adapter.Builder.Build(target, nil)
	if err != nil {
		return nil, fmt.Sprintf("%s: build command: %v", name, err)
	}

	out := r.invoker.Invoke(ctx, tool_adapter.CommandSpec{Name: name, Binary: binary, Args: args}, r.timeout)
	if !out.OK() {
		logger.WithFields(map[string]interface{}{
			"task_id": exec.TaskID,
			"tool":    name,
			"outcome": string(out.Kind),
		}).Warn("dependency tool unavailable, contributing zero findings")
		return nil, fmt.Sprintf("%s: %s", name, out.Message())
	}
	return parser.Normalize(string(scan.ScanTypeDependency)+":"+name, adapter.Parser, out.Output), ""
}
