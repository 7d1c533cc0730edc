package runner

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
)

const attackSuite = `
name: demo-api
requests:
  - id: reflected-xss
    method: get
    path: /search?q={{ .Payload | urlquery }}
    payloads:
      - "<script>alert(1)</script>"
      - "harmless"
    category: xss
    cwe: CWE-79
    severity: high
    match:
      reflected: true
      body_contains: ["<script>"]
  - id: sqli-login
    method: POST
    path: /login
    headers:
      Content-Type: application/json
    body: '{"user": {{ .Payload | toJson }}, "pass": "x"}'
    payloads:
      - "admin' OR '1'='1"
    category: sqli
    cwe: CWE-89
    severity: critical
    match:
      status: [500]
      body_regex: ["(?i)sql syntax"]
  - id: health
    path: /health
`

func attackServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "results for "+r.URL.Query().Get("q"))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "'") && r.Header.Get("Content-Type") == "application/json" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "You have an error in your SQL syntax")
			return
		}
		_, _ = io.WriteString(w, "denied")
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	return httptest.NewServer(mux)
}

func TestParseSuite(t *testing.T) {
	suite, err := ParseSuite([]byte(attackSuite))
	require.NoError(t, err)
	assert.Equal(t, "demo-api", suite.Name)
	require.Len(t, suite.Requests, 3)
	assert.Equal(t, "GET", suite.Requests[0].Method)
	assert.Equal(t, "GET", suite.Requests[2].Method)
	assert.True(t, suite.Requests[2].Match.Empty())

	cases, err := suite.Expand("http://127.0.0.1:8000/")
	require.NoError(t, err)
	require.Len(t, cases, 4)
	assert.Equal(t, "http://127.0.0.1:8000/search?q=%3Cscript%3Ealert%281%29%3C%2Fscript%3E", cases[0].URL)
	assert.Equal(t, `{"user": "admin' OR '1'='1", "pass": "x"}`, cases[2].Body)

	_, err = ParseSuite([]byte("requests:\n  - id: x\n"))
	assert.Error(t, err)
	_, err = ParseSuite([]byte("requests:\n  - path: /x\n    match:\n      body_regex: ['(']\n"))
	assert.Error(t, err)
	_, err = ParseSuite([]byte("requests: [unclosed"))
	assert.Error(t, err)
}

func TestAttackRunnerReplay(t *testing.T) {
	srv := attackServer()
	defer srv.Close()

	r := NewAttackRunner(nil, &config.AttackScanConfig{RateLimit: 1000})
	progress := &progressLog{}
	res, err := r.Run(context.Background(), &Execution{
		TaskID:   1,
		Target:   srv.URL,
		Config:   map[string]interface{}{"dsl": attackSuite},
		Progress: progress,
	})
	require.NoError(t, err)
	assert.Equal(t, scan.FinishReasonCompleted, res.Reason)
	assert.Equal(t, []int{25, 50, 75, 100}, progress.values)

	require.Len(t, res.Findings, 2)
	xss := res.Findings[0]
	assert.Equal(t, "api_attack:demo-api", xss.Source)
	assert.Equal(t, scan.SeverityHigh, xss.Severity)
	assert.Equal(t, "CWE-79", xss.CWE)
	assert.True(t, strings.HasPrefix(xss.Location, "GET "+srv.URL+"/search"))
	assert.Contains(t, xss.Evidence, "status=200")

	sqli := res.Findings[1]
	assert.Equal(t, scan.SeverityCritical, sqli.Severity)
	assert.Equal(t, "POST "+srv.URL+"/login", sqli.Location)
}

func TestAttackRunnerStop(t *testing.T) {
	srv := attackServer()
	defer srv.Close()

	r := NewAttackRunner(nil, &config.AttackScanConfig{RateLimit: 1000})
	sent := 0
	res, err := r.Run(context.Background(), &Execution{
		TaskID:   2,
		Target:   srv.URL,
		Config:   map[string]interface{}{"dsl": attackSuite},
		Stop:     StopFunc(func() bool { return sent >= 2 }),
		Progress: ProgressFunc(func(int) { sent++ }),
	})
	require.NoError(t, err)
	assert.True(t, res.Stopped())
	assert.Equal(t, 2, sent)
	assert.Len(t, res.Findings, 1)
}

func TestAttackRunnerDSLDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(attackSuite), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("requests: [unclosed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	suites, err := NewDSLGenerator(dir).Generate(context.Background(), "http://x", nil)
	require.NoError(t, err)
	require.Len(t, suites, 1)
	assert.Equal(t, "demo-api", suites[0].Name)

	suites, err = NewDSLGenerator(filepath.Join(dir, "missing")).Generate(context.Background(), "http://x", nil)
	require.NoError(t, err)
	assert.Empty(t, suites)
}

func TestDSLGeneratorFileStaysInDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(attackSuite), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("root:x:0:0:root:/root:/bin/bash"), 0o644))
	outside := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(outside, []byte("root:x:0:0:root:/root:/bin/bash"), 0o644))
	g := NewDSLGenerator(dir)
	ctx := context.Background()

	suites, err := g.Generate(ctx, "http://x", map[string]interface{}{"dsl_file": "a.yaml"})
	require.NoError(t, err)
	require.Len(t, suites, 1)
	suites, err = g.Generate(ctx, "http://x", map[string]interface{}{"dsl_file": filepath.Join(dir, "a.yaml")})
	require.NoError(t, err)
	require.Len(t, suites, 1)

	for _, file := range []string{outside, "../passwd", "/etc/passwd", filepath.Join(dir, "..", "passwd")} {
		_, err = g.Generate(ctx, "http://x", map[string]interface{}{"dsl_file": file})
		assert.ErrorIs(t, err, ErrDSLFileNotAllowed, file)
	}

	// 软链接指向目录外同样拒绝
	if err := os.Symlink(outside, filepath.Join(dir, "link.yaml")); err == nil {
		_, err = g.Generate(ctx, "http://x", map[string]interface{}{"dsl_file": "link.yaml"})
		assert.ErrorIs(t, err, ErrDSLFileNotAllowed)
	}

	// 未配置目录时不允许 dsl_file
	_, err = NewDSLGenerator("").Generate(ctx, "http://x", map[string]interface{}{"dsl_file": "a.yaml"})
	assert.ErrorIs(t, err, ErrDSLFileNotAllowed)

	// 错误信息不带文件内容
	_, err = g.Generate(ctx, "http://x", map[string]interface{}{"dsl_file": "broken.yml"})
	require.ErrorIs(t, err, ErrInvalidSuite)
	assert.NotContains(t, err.Error(), "root:x")
}

func TestAttackRunnerEmptySuite(t *testing.T) {
	r := NewAttackRunner(NewDSLGenerator(""), nil)
	res, err := r.Run(context.Background(), &Execution{TaskID: 3, Target: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, scan.FinishReasonCompleted, res.Reason)
}

func TestAttackRunnerBadInlineDSL(t *testing.T) {
	r := NewAttackRunner(nil, nil)
	_, err := r.Run(context.Background(), &Execution{
		TaskID: 4,
		Target: "http://127.0.0.1:1",
		Config: map[string]interface{}{"dsl": "requests: [unclosed"},
	})
	assert.Error(t, err)
}
