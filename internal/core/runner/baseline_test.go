package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/parser"
)

const nucleiOutput = `{"template-id":"CVE-2021-41773","info":{"name":"Apache Path Traversal","severity":"critical"},"type":"http","host":"http://127.0.0.1","matched-at":"http://127.0.0.1/cgi-bin/"}`

func headerServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Server", "nginx/1.18.0")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		_, _ = w.Write([]byte("ok"))
	}))
}

func TestBaselineRunner(t *testing.T) {
	srv := headerServer()
	defer srv.Close()

	invoker := &fakeInvoker{outcomes: map[string]*tool_adapter.Outcome{
		parser.ToolNuclei: ok(parser.ToolNuclei, nucleiOutput),
	}}
	r, err := NewBaselineRunner(invoker, &config.BaselineScanConfig{
		Nuclei:   &config.ToolConfig{Enabled: true, Binary: "nuclei"},
		Severity: []string{"high", "critical"},
	})
	require.NoError(t, err)

	progress := &progressLog{}
	res, err := r.Run(context.Background(), &Execution{TaskID: 1, Target: srv.URL, Progress: progress})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonCompleted, res.Reason)
	assert.Equal(t, []int{50, 100}, progress.values)

	titles := make(map[string]scan.Severity)
	for _, f := range res.Findings {
		titles[f.Title] = f.Severity
	}
	assert.Equal(t, scan.SeverityLow, titles["Missing Content-Security-Policy header"])
	assert.Equal(t, scan.SeverityLow, titles["Missing X-Content-Type-Options header"])
	assert.Equal(t, scan.SeverityInfo, titles["Server header discloses version"])
	assert.Equal(t, scan.SeverityLow, titles["Cookie session without HttpOnly"])
	assert.NotContains(t, titles, "Missing X-Frame-Options header")
	assert.NotContains(t, titles, "Missing Strict-Transport-Security header")
	assert.Len(t, res.Findings, 5)

	spec, found := invoker.spec(parser.ToolNuclei)
	require.True(t, found)
	assert.Equal(t, []string{"-u", srv.URL, "-jsonl", "-silent", "-severity", "high,critical"}, spec.Args)
}

func TestBaselineRunnerStopBetweenSteps(t *testing.T) {
	srv := headerServer()
	defer srv.Close()

	invoker := &fakeInvoker{}
	r, err := NewBaselineRunner(invoker, nil)
	require.NoError(t, err)

	stopped := false
	res, err := r.Run(context.Background(), &Execution{
		TaskID:   2,
		Target:   srv.URL,
		Stop:     StopFunc(func() bool { return stopped }),
		Progress: ProgressFunc(func(p int) { stopped = p >= 50 }),
	})
	require.NoError(t, err)
	assert.True(t, res.Stopped())
	assert.Empty(t, invoker.calls)
}

func TestBaselineRunnerNucleiMissing(t *testing.T) {
	srv := headerServer()
	defer srv.Close()

	r, err := NewBaselineRunner(&fakeInvoker{}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), &Execution{TaskID: 3, Target: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
	assert.Len(t, res.Findings, 4)
}

func TestCheckSecurityHeadersHTTPS(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Content-Security-Policy", "default-src 'self'")
	resp.Header.Set("X-Frame-Options", "DENY")
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	resp.Header.Set("X-Powered-By", "Express")
	resp.Header.Add("Set-Cookie", "sid=1; HttpOnly")

	findings := CheckSecurityHeaders("https://app.internal", resp)
	require.Len(t, findings, 3)
	assert.Equal(t, "Missing Strict-Transport-Security header", findings[0].Title)
	assert.Equal(t, scan.SeverityInfo, findings[1].Severity)
	assert.Equal(t, "Cookie sid without Secure", findings[2].Title)
}

func TestBaselineRunnerSeverityParam(t *testing.T) {
	srv := headerServer()
	defer srv.Close()

	invoker := &fakeInvoker{outcomes: map[string]*tool_adapter.Outcome{
		parser.ToolNuclei: ok(parser.ToolNuclei, ""),
	}}
	r, err := NewBaselineRunner(invoker, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), &Execution{
		TaskID: 4,
		Target: srv.URL,
		Config: map[string]interface{}{"severity": []interface{}{"High", "critical"}, "binary_path": "/bin/sh"},
	})
	require.NoError(t, err)
	spec, found := invoker.spec(parser.ToolNuclei)
	require.True(t, found)
	assert.Equal(t, "nuclei", spec.Binary)
	assert.Equal(t, []string{"-u", srv.URL, "-jsonl", "-silent", "-severity", "high,critical"}, spec.Args)

	invoker = &fakeInvoker{}
	r, err = NewBaselineRunner(invoker, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), &Execution{
		TaskID: 5,
		Target: srv.URL,
		Config: map[string]interface{}{"severity": "-t /etc/passwd"},
	})
	require.NoError(t, err)
	assert.Empty(t, invoker.calls)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
}
