package postscan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/model/scan"
)

func sampleInput() *Input {
	start := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	return &Input{
		TaskID:   7,
		ScanType: scan.ScanTypeDependency,
		Target:   "/src/app",
		Findings: []scan.Finding{
			{Source: "dependency_scan:bandit", Title: "B102 exec_used", Severity: scan.SeverityMedium, Location: "app.py:3"},
			{Source: "dependency_scan:trivy", Title: "CVE-2023-0001", Severity: scan.SeverityCritical, Location: "x/net@0.1.0", CWE: "CWE-400"},
			{Source: "dependency_scan:trivy", Title: "CVE-2023-0002", Severity: scan.SeverityHigh, Location: "x/text@0.1.0"},
		},
		Risk:         scan.RiskResult{Score: 85, Level: scan.RiskLevelCritical, Summary: scan.SeveritySummary{Critical: 1, High: 1, Medium: 1, Total: 3}},
		FinishReason: scan.FinishReasonCompleted,
		StartTime:    start,
		EndTime:      start.Add(90 * time.Second),
	}
}

// 记录调用顺序的桩实现
type recorder struct {
	calls     []string
	ticketed  []scan.Finding
	failStage string
	panicAt   string
	failures  []string
}

func (r *recorder) step(stage string) error {
	r.calls = append(r.calls, stage)
	if r.panicAt == stage {
		panic("boom")
	}
	if r.failStage == stage {
		return errors.New(stage + " failed")
	}
	return nil
}

func (r *recorder) Render(ctx context.Context, in *Input) (string, error) {
	if err := r.step(StageReport); err != nil {
		return "", err
	}
	return "# report", nil
}

func (r *recorder) Create(ctx context.Context, taskID uint64, target string, findings []scan.Finding) error {
	r.ticketed = findings
	return r.step(StageTicket)
}

func (r *recorder) Notify(ctx context.Context, in *Input) error {
	return r.step(StageNotify)
}

func (r *recorder) PostScanFailed(stage string) {
	r.failures = append(r.failures, stage)
}

func TestPipelineOrder(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, rec, scan.SeverityHigh).WithRecorder(rec)

	report := p.Run(context.Background(), sampleInput())
	assert.Equal(t, "# report", report)
	assert.Equal(t, []string{StageReport, StageTicket, StageNotify}, rec.calls)
	require.Len(t, rec.ticketed, 2)
	assert.Empty(t, rec.failures)
}

func TestPipelineStageFailuresAreIsolated(t *testing.T) {
	rec := &recorder{failStage: StageTicket, panicAt: StageReport}
	p := NewPipeline(rec, rec, rec, scan.SeverityHigh).WithRecorder(rec)

	report := p.Run(context.Background(), sampleInput())
	assert.Empty(t, report)
	assert.Equal(t, []string{StageReport, StageTicket, StageNotify}, rec.calls)
	assert.Equal(t, []string{StageReport, StageTicket}, rec.failures)
}

func TestPipelineSkipsTicketBelowThreshold(t *testing.T) {
	rec := &recorder{}
	in := sampleInput()
	in.Findings = in.Findings[:1]

	NewPipeline(nil, rec, rec, scan.SeverityHigh).Run(context.Background(), in)
	assert.Equal(t, []string{StageNotify}, rec.calls)
}

func TestTemplateRenderer(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	out, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Contains(t, out, "# 扫描报告 #7")
	assert.Contains(t, out, "| 85 | critical | 1 | 1 | 1 | 0 | 0 | 3 |")
	assert.Contains(t, out, "耗时: 1m30s")
	// 按严重程度降序
	assert.Less(t, strings.Index(out, "[CRITICAL] CVE-2023-0001"), strings.Index(out, "[HIGH] CVE-2023-0002"))
	assert.Less(t, strings.Index(out, "[HIGH] CVE-2023-0002"), strings.Index(out, "[MEDIUM] B102"))

	empty := sampleInput()
	empty.Findings = nil
	out, err = r.Render(context.Background(), empty)
	require.NoError(t, err)
	assert.Contains(t, out, "未发现漏洞")
}

func TestTemplateRendererCustomFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "report.tmpl")
	require.NoError(t, os.WriteFile(file, []byte(`{{ .Target }} {{ .Risk.Level }} {{ len .Findings }}`), 0o644))

	r, err := NewTemplateRenderer(file)
	require.NoError(t, err)
	out, err := r.Render(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "/src/app critical 3", out)

	_, err = NewTemplateRenderer(filepath.Join(t.TempDir(), "missing.tmpl"))
	assert.Error(t, err)
}

func TestWebhookTicketCreator(t *testing.T) {
	var got ticketPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	in := sampleInput()
	high := FilterBySeverity(in.Findings, scan.SeverityHigh)
	require.NoError(t, NewWebhookTicketCreator(srv.URL, "s3cret", time.Second).Create(context.Background(), 7, in.Target, high))
	assert.Equal(t, uint64(7), got.TaskID)
	assert.Len(t, got.Findings, 2)

	err := NewWebhookTicketCreator(srv.URL, "wrong", time.Second).Create(context.Background(), 7, in.Target, high)
	assert.ErrorContains(t, err, "401")
}

func TestRedisNotifierUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	err := NewRedisNotifier(client, "").Notify(context.Background(), sampleInput())
	assert.ErrorContains(t, err, DefaultNotifyChannel)

	// 流水线吞掉通知失败
	rec := &recorder{}
	p := NewPipeline(nil, nil, NewRedisNotifier(client, ""), scan.SeverityHigh).WithRecorder(rec)
	assert.NotPanics(t, func() { p.Run(context.Background(), sampleInput()) })
	assert.Equal(t, []string{StageNotify}, rec.failures)
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(sampleInput())
	assert.Equal(t, "scan.finished", ev.Type)
	assert.Equal(t, 90.0, ev.DurationSec)
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), sampleInput()))
}
