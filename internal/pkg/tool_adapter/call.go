package tool_adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Call 以 Outcome 包装一次网络调用（如 ZAP 控制 API）
// fn 返回的错误按类型分类：连接拒绝/DNS 失败 -> not_found，超时 -> timeout，其余 -> error
func Call(ctx context.Context, tool string, timeout time.Duration, fn func(ctx context.Context) error) (out *Outcome) {
	start := time.Now()
	out = &Outcome{Tool: tool, ExitCode: -1}

	defer func() {
		if r := recover(); r != nil {
			out = &Outcome{Tool: tool, Kind: KindError, ExitCode: -1, Err: fmt.Errorf("tool call panic: %v", r)}
		}
		out.Duration = time.Since(start)
		observe(out)
	}()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(callCtx)
	out.Kind = ClassifyError(err)
	if err != nil {
		out.Err = err
	} else {
		out.ExitCode = 0
	}
	return out
}

// ClassifyError 网络错误分类
func ClassifyError(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindNotFound
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNotFound
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindNotFound
	}
	return KindError
}
