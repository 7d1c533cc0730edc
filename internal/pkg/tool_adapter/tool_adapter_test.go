package tool_adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcessInvokerNotFound(t *testing.T) {
	out := NewProcessInvoker().Invoke(context.Background(), CommandSpec{Name: "pip_audit", Binary: "definitely-not-installed-tool-xyz"}, time.Second)
	assert.Equal(t, KindNotFound, out.Kind)
	assert.Error(t, out.Err)
	assert.Equal(t, "pip_audit", out.Tool)
}

func TestProcessInvokerClassification(t *testing.T) {
	requireShell(t)
	inv := NewProcessInvoker()
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		want   Kind
		output string
	}{
		{"success", "echo '[]'", KindOK, "[]\n"},
		{"nonzero_with_output", "echo '{\"results\":[]}'; exit 1", KindOK, "{\"results\":[]}\n"},
		{"nonzero_without_output", "echo boom >&2; exit 2", KindError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := inv.Invoke(ctx, CommandSpec{Name: tt.name, Binary: "sh", Args: []string{"-c", tt.script}}, 5*time.Second)
			assert.Equal(t, tt.want, out.Kind, out.Message())
			assert.Equal(t, tt.output, string(out.Output))
		})
	}
}

func TestProcessInvokerTimeout(t *testing.T) {
	requireShell(t)
	start := time.Now()
	out := NewProcessInvoker().Invoke(context.Background(), CommandSpec{Name: "slow", Binary: "sh", Args: []string{"-c", "sleep 10"}}, 200*time.Millisecond)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessInvokerParentCancelled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	out := NewProcessInvoker().Invoke(ctx, CommandSpec{Name: "slow", Binary: "sh", Args: []string{"-c", "sleep 10"}}, time.Minute)
	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestProcessInvokerRecoversPanic(t *testing.T) {
	inv := &ProcessInvoker{lookPath: func(string) (string, error) { panic("lookup exploded") }}
	var out *Outcome
	assert.NotPanics(t, func() {
		out = inv.Invoke(context.Background(), CommandSpec{Name: "x", Binary: "x"}, time.Second)
	})
	assert.Equal(t, KindError, out.Kind)
}

func TestCallClassification(t *testing.T) {
	ctx := context.Background()

	ok := Call(ctx, "zap", time.Second, func(ctx context.Context) error { return nil })
	assert.True(t, ok.OK())

	timeout := Call(ctx, "zap", 50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, KindTimeout, timeout.Kind)

	generic := Call(ctx, "zap", time.Second, func(ctx context.Context) error { return errors.New("bad response") })
	assert.Equal(t, KindError, generic.Kind)

	panicked := Call(ctx, "zap", time.Second, func(ctx context.Context) error { panic("boom") })
	assert.Equal(t, KindError, panicked.Kind)
}

func TestCallRefusedIsNotFound(t *testing.T) {
	// 取一个已关闭的端口
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	out := Call(context.Background(), "zap", 2*time.Second, func(ctx context.Context) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	})
	assert.Equal(t, KindNotFound, out.Kind)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindOK, ClassifyError(nil))
	assert.Equal(t, KindNotFound, ClassifyError(&net.DNSError{Err: "no such host", Name: "zap.invalid", IsNotFound: true}))
	assert.Equal(t, KindNotFound, ClassifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, KindTimeout, ClassifyError(context.DeadlineExceeded))
}

type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRecorder) ToolInvoked(tool, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[tool+":"+outcome]++
}

func TestRecorderObservesOutcomes(t *testing.T) {
	rec := &countingRecorder{calls: map[string]int{}}
	SetRecorder(rec)
	defer SetRecorder(nil)

	NewProcessInvoker().Invoke(context.Background(), CommandSpec{Name: "trivy", Binary: "definitely-not-installed-tool-xyz"}, time.Second)
	Call(context.Background(), "zap", time.Second, func(ctx context.Context) error { return nil })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 1, rec.calls["trivy:not_found"])
	assert.Equal(t, 1, rec.calls["zap:ok"])
}
