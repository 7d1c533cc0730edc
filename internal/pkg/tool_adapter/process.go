package tool_adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// 进程被取消后等待 IO 关闭的上限
const defaultWaitDelay = 2 * time.Second

// stderr 摘要保留长度
const maxStderrLen = 4096

// CommandSpec 命令描述
type CommandSpec struct {
	Name   string   // 工具名，用于日志和指标
	Binary string   // 可执行文件名或路径
	Args   []string // 参数
	Dir    string   // 工作目录
	Env    []string // 追加的环境变量 KEY=VALUE
}

// Invoker 命令行工具调用接口
type Invoker interface {
	Invoke(ctx context.Context, spec CommandSpec, timeout time.Duration) *Outcome
}

// ProcessInvoker 基于 os/exec 的调用实现
type ProcessInvoker struct {
	lookPath  func(string) (string, error)
	waitDelay time.Duration
}

// NewProcessInvoker 创建进程调用器
func NewProcessInvoker() *ProcessInvoker {
	return &ProcessInvoker{
		lookPath:  exec.LookPath,
		waitDelay: defaultWaitDelay,
	}
}

// Invoke 执行命令并分类结果
//   - 可执行文件不存在 -> not_found
//   - 超过 timeout 或父 ctx 截止 -> timeout
//   - 退出码非零但 stdout 有内容 -> ok（多数安全工具发现问题时以非零退出）
//   - 其他失败 -> error
func (p *ProcessInvoker) Invoke(ctx context.Context, spec CommandSpec, timeout time.Duration) (out *Outcome) {
	start := time.Now()
	out = &Outcome{Tool: spec.Name, ExitCode: -1}
	if out.Tool == "" {
		out.Tool = spec.Binary
	}

	defer func() {
		if r := recover(); r != nil {
			out = &Outcome{Tool: out.Tool, Kind: KindError, ExitCode: -1, Err: fmt.Errorf("tool invocation panic: %v", r)}
		}
		out.Duration = time.Since(start)
		observe(out)
	}()

	path, err := p.lookPath(spec.Binary)
	if err != nil {
		out.Kind = KindNotFound
		out.Err = fmt.Errorf("binary %s not found: %w", spec.Binary, err)
		return out
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = p.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out.Output = stdout.Bytes()
	out.Stderr = truncate(stderr.String(), maxStderrLen)
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Kind = KindTimeout
		out.Err = fmt.Errorf("%s timed out after %s", out.Tool, time.Since(start).Round(time.Millisecond))
	case runCtx.Err() != nil:
		out.Kind = KindError
		out.Err = fmt.Errorf("%s cancelled: %w", out.Tool, runCtx.Err())
	case runErr == nil:
		out.Kind = KindOK
	case isExitError(runErr):
		if len(bytes.TrimSpace(out.Output)) > 0 {
			out.Kind = KindOK
			return out
		}
		out.Kind = KindError
		out.Err = fmt.Errorf("%s exited with code %d: %s", out.Tool, out.ExitCode, firstLine(out.Stderr))
	case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, os.ErrNotExist), errors.Is(runErr, os.ErrPermission):
		out.Kind = KindNotFound
		out.Err = runErr
	default:
		out.Kind = KindError
		out.Err = runErr
	}
	return out
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
