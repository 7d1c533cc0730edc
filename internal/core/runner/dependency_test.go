package runner

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/parser"
)

const (
	banditOutput = `{"results":[{"filename":"app.py","line_number":3,"issue_text":"Use of exec detected.","issue_severity":"MEDIUM","issue_confidence":"HIGH","test_id":"B102","test_name":"exec_used","issue_cwe":{"id":78}}]}`
	trivyOutput  = `{"Results":[{"Target":"go.sum","Vulnerabilities":[{"VulnerabilityID":"CVE-2023-0001","PkgName":"golang.org/x/net","InstalledVersion":"0.1.0","Severity":"CRITICAL","Title":"x/net bug"}]}]}`
)

// fakeInvoker 按工具名返回预置结果
type fakeInvoker struct {
	mu       sync.Mutex
	outcomes map[string]*tool_adapter.Outcome
	calls    []tool_adapter.CommandSpec
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec tool_adapter.CommandSpec, timeout time.Duration) *tool_adapter.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	out, ok := f.outcomes[spec.Name]
	f.mu.Unlock()
	if !ok {
		return &tool_adapter.Outcome{Tool: spec.Name, Kind: tool_adapter.KindNotFound, ExitCode: -1}
	}
	return out
}

func (f *fakeInvoker) spec(name string) (tool_adapter.CommandSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Name == name {
			return c, true
		}
	}
	return tool_adapter.CommandSpec{}, false
}

func ok(name, output string) *tool_adapter.Outcome {
	return &tool_adapter.Outcome{Tool: name, Kind: tool_adapter.KindOK, Output: []byte(output)}
}

func TestDependencyRunnerPartialTools(t *testing.T) {
	invoker := &fakeInvoker{outcomes: map[string]*tool_adapter.Outcome{
		parser.ToolBandit: ok(parser.ToolBandit, banditOutput),
		parser.ToolTrivy:  ok(parser.ToolTrivy, trivyOutput),
	}}
	r, err := NewDependencyRunner(invoker, nil)
	require.NoError(t, err)

	progress := &progressLog{}
	res, err := r.Run(context.Background(), &Execution{TaskID: 1, Target: "/src/app", Progress: progress})
	require.NoError(t, err)

	require.Len(t, res.Findings, 2)
	// 按固定顺序拼接：bandit 在 trivy 之前
	assert.Equal(t, "dependency_scan:bandit", res.Findings[0].Source)
	assert.Equal(t, "dependency_scan:trivy", res.Findings[1].Source)
	assert.Equal(t, scan.SeverityCritical, res.Findings[1].Severity)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
	assert.Len(t, res.Warnings, 2)

	sorted := append([]int(nil), progress.values...)
	sort.Ints(sorted)
	assert.Equal(t, []int{25, 50, 75, 100}, sorted)

	spec, found := invoker.spec(parser.ToolPipAudit)
	require.True(t, found)
	assert.Equal(t, "pip-audit", spec.Binary)
	assert.Equal(t, []string{"-r", "/src/app/requirements.txt", "-f", "json"}, spec.Args)
}

func TestDependencyRunnerAllNotFound(t *testing.T) {
	r, err := NewDependencyRunner(&fakeInvoker{}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), &Execution{TaskID: 2, Target: "/src/app"})
	require.NoError(t, err)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
	assert.Len(t, res.Warnings, 4)
}

func TestDependencyRunnerMalformedOutput(t *testing.T) {
	invoker := &fakeInvoker{outcomes: map[string]*tool_adapter.Outcome{
		parser.ToolBandit:   ok(parser.ToolBandit, "Traceback (most recent call last):"),
		parser.ToolPipAudit: {Tool: parser.ToolPipAudit, Kind: tool_adapter.KindTimeout},
		parser.ToolNpmAudit: {Tool: parser.ToolNpmAudit, Kind: tool_adapter.KindError},
		parser.ToolTrivy:    ok(parser.ToolTrivy, trivyOutput),
	}}
	r, err := NewDependencyRunner(invoker, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), &Execution{TaskID: 3, Target: "/src/app"})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "dependency_scan:trivy", res.Findings[0].Source)
}

func TestDependencyRunnerConfig(t *testing.T) {
	cfg := &config.DependencyScanConfig{Tools: map[string]*config.ToolConfig{
		parser.ToolNpmAudit: {Enabled: false},
		parser.ToolTrivy:    {Enabled: true, Binary: "/opt/trivy", Template: "{{.Binary}} fs -f json {{.Target}}"},
	}}
	invoker := &fakeInvoker{}
	r, err := NewDependencyRunner(invoker, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{parser.ToolPipAudit, parser.ToolBandit, parser.ToolTrivy}, r.Tools())

	_, err = r.Run(context.Background(), &Execution{
		TaskID: 4,
		Target: "/repo",
		Config: map[string]interface{}{"tools": []interface{}{"trivy"}},
	})
	require.NoError(t, err)

	require.Len(t, invoker.calls, 1)
	assert.Equal(t, "/opt/trivy", invoker.calls[0].Binary)
	assert.Equal(t, []string{"fs", "-f", "json", "/repo"}, invoker.calls[0].Args)
}

func TestDependencyRunnerIgnoresTaskCommandInput(t *testing.T) {
	invoker := &fakeInvoker{}
	r, err := NewDependencyRunner(invoker, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), &Execution{
		TaskID: 5,
		Target: "/src/my app -c 'touch /tmp/x'",
		Config: map[string]interface{}{"binary_path": "/bin/bash", "tools": []interface{}{"bandit"}},
	})
	require.NoError(t, err)
	require.Len(t, invoker.calls, 1)
	assert.Equal(t, "bandit", invoker.calls[0].Binary)
	// 目标始终是单个参数
	assert.Equal(t, []string{"-r", "/src/my app -c 'touch /tmp/x'", "-f", "json", "-q"}, invoker.calls[0].Args)

	invoker = &fakeInvoker{}
	r, err = NewDependencyRunner(invoker, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), &Execution{
		TaskID: 6,
		Target: "-c 'touch /tmp/x' x",
		Config: map[string]interface{}{"tools": []interface{}{"bandit"}},
	})
	require.NoError(t, err)
	assert.Empty(t, invoker.calls)
	assert.Equal(t, scan.FinishReasonDegraded, res.Reason)
}
