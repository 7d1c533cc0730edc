/**
 * 基线检查策略
 * @author: sun977
 * @date: 2026.10.14
 * @description: 第一步探测 HTTP 安全响应头，第二步调用 nuclei 模板扫描
 */
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/parser"
	"neoaudit/internal/pkg/tool_adapter/registry"
	"neoaudit/internal/pkg/utils"
	"neoaudit/internal/pkg/version"
)

const (
	baselineSourceHeaders = "baseline_check:headers"
	baselineSourceNuclei  = "baseline_check:nuclei"

	defaultNucleiTemplate = "{{.Binary}} -u {{.Target}} -jsonl -silent{{with .severity}} -severity {{.}}{{end}}"
	defaultProbeTimeout   = 10 * time.Second

	// 模板唯一可读取的任务参数
	nucleiParamSeverity = "severity"
)

var nucleiSeverities = map[string]struct{}{
	"info": {}, "low": {}, "medium": {}, "high": {}, "critical": {}, "unknown": {},
}

// 必需的安全响应头
var requiredHeaders = []struct {
	name      string
	httpsOnly bool
	cwe       string
	desc      string
}{
	{"Content-Security-Policy", false, "CWE-693", "响应未设置 CSP，无法限制脚本与资源来源"},
	{"Strict-Transport-Security", true, "CWE-319", "HTTPS 站点未设置 HSTS，存在降级劫持风险"},
	{"X-Frame-Options", false, "CWE-1021", "响应未设置 X-Frame-Options，可能被点击劫持"},
	{"X-Content-Type-Options", false, "CWE-693", "响应未设置 X-Content-Type-Options: nosniff"},
}

// BaselineRunner baseline_check 策略
type BaselineRunner struct {
	client      *http.Client
	invoker     tool_adapter.Invoker
	tools       *registry.ToolRegistry
	nuclei      bool
	toolTimeout time.Duration
	severity    []string
}

// NewBaselineRunner 创建基线检查策略
func NewBaselineRunner(invoker tool_adapter.Invoker, cfg *config.BaselineScanConfig) (*BaselineRunner, error) {
	r := &BaselineRunner{
		client:      &http.Client{Timeout: defaultProbeTimeout},
		invoker:     invoker,
		tools:       registry.NewToolRegistry(),
		nuclei:      true,
		toolTimeout: defaultToolTimeout,
	}

	binary, tmpl := "nuclei", defaultNucleiTemplate
	if cfg != nil {
		if cfg.RequestTimeout > 0 {
			r.client.Timeout = cfg.RequestTimeout
		}
		if cfg.ToolTimeout > 0 {
			r.toolTimeout = cfg.ToolTimeout
		}
		r.severity = cfg.Severity
		if n := cfg.Nuclei; n != nil {
			r.nuclei = n.Enabled
			if n.Binary != "" {
				binary = n.Binary
			}
			if n.Template != "" {
				tmpl = n.Template
			}
		}
	}
	if r.nuclei {
		if err := r.tools.RegisterTemplate(parser.ToolNuclei, binary, tmpl, nil, nucleiParamSeverity); err != nil {
			return nil, fmt.Errorf("baseline runner: %w", err)
		}
	}
	return r, nil
}

// WithHTTPClient 替换探测使用的 HTTP 客户端
func (r *BaselineRunner) WithHTTPClient(c *http.Client) *BaselineRunner {
	if c != nil {
		r.client = c
	}
	return r
}

// Name 返回扫描类型
func (r *BaselineRunner) Name() scan.ScanType {
	return scan.ScanTypeBaseline
}

// Run 执行基线检查
func (r *BaselineRunner) Run(ctx context.Context, exec *Execution) (*Result, error) {
	res := newResult()
	target := utils.NormalizeTargetURL(exec.Target)

	if exec.shouldStop() {
		res.Reason = scan.FinishReasonStopped
		return res, nil
	}

	var resp *http.Response
	out := tool_adapter.Call(ctx, "http.headers", r.client.Timeout, func(c context.Context) error {
		req, err := http.NewRequestWithContext(c, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", version.GetUserAgent())
		resp, err = r.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return resp.Body.Close()
	})
	if out.OK() && resp != nil {
		res.Findings = append(res.Findings, CheckSecurityHeaders(target, resp)...)
	} else {
		res.degrade(fmt.Sprintf("header probe failed: %s", out.Message()))
	}
	exec.report(50)

	if exec.shouldStop() {
		res.Reason = scan.FinishReasonStopped
		return res, nil
	}

	if r.nuclei {
		findings, warning := r.runNuclei(ctx, exec, target)
		res.Findings = append(res.Findings, findings...)
		if warning != "" {
			res.degrade(warning)
		}
	}

	if exec.shouldStop() {
		res.Reason = scan.FinishReasonStopped
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	exec.report(100)
	return res, nil
}

// runNuclei 调用 nuclei，任务配置 severity 优先于全局配置
func (r *BaselineRunner) runNuclei(ctx context.Context, exec *Execution, target string) ([]scan.Finding, string) {
	adapter, err := r.tools.Get(parser.ToolNuclei)
	if err != nil {
		return nil, err.Error()
	}

	severity := utils.MapStrings(exec.Config, nucleiParamSeverity)
	if len(severity) == 0 {
		severity = r.severity
	}
	levels := make([]string, 0, len(severity))
	for _, s := range severity {
		s = strings.ToLower(strings.TrimSpace(s))
		if _, ok := nucleiSeverities[s]; !ok {
			return nil, fmt.Sprintf("nuclei: unsupported severity %q", s)
		}
		levels = append(levels, s)
	}
	params := map[string]interface{}{nucleiParamSeverity: strings.Join(levels, ",")}

	binary, args, err := adapter.Builder.Build(target, params)
	if err != nil {
		return nil, fmt.Sprintf("nuclei: build command: %v", err)
	}
	out := r.invoker.Invoke(ctx, tool_adapter.CommandSpec{Name: parser.ToolNuclei, Binary: binary, Args: args}, r.toolTimeout)
	if !out.OK() {
		return nil, fmt.Sprintf("nuclei: %s", out.Message())
	}
	return parser.Normalize(baselineSourceNuclei, adapter.Parser, out.Output), ""
}

// CheckSecurityHeaders 根据响应头生成基线发现
func CheckSecurityHeaders(target string, resp *http.Response) []scan.Finding {
	findings := []scan.Finding{}
	isHTTPS := strings.HasPrefix(strings.ToLower(target), "https://")
	if resp.Request != nil && resp.Request.URL != nil {
		isHTTPS = resp.Request.URL.Scheme == "https"
	}

	for _, h := range requiredHeaders {
		if h.httpsOnly && !isHTTPS {
			continue
		}
		if resp.Header.Get(h.name) != "" {
			continue
		}
		findings = append(findings, scan.Finding{
			Source:      baselineSourceHeaders,
			Title:       "Missing " + h.name + " header",
			Description: h.desc,
			Severity:    scan.SeverityLow,
			Location:    target,
			CWE:         h.cwe,
			Category:    "security_header",
		})
	}

	if server := resp.Header.Get("Server"); server != "" && strings.IndexFunc(server, unicode.IsDigit) >= 0 {
		findings = append(findings, disclosure(target, "Server", server))
	}
	if powered := resp.Header.Get("X-Powered-By"); powered != "" {
		findings = append(findings, disclosure(target, "X-Powered-By", powered))
	}

	for _, c := range resp.Cookies() {
		var missing []string
		if isHTTPS && !c.Secure {
			missing = append(missing, "Secure")
		}
		if !c.HttpOnly {
			missing = append(missing, "HttpOnly")
		}
		if len(missing) == 0 {
			continue
		}
		findings = append(findings, scan.Finding{
			Source:      baselineSourceHeaders,
			Title:       fmt.Sprintf("Cookie %s without %s", c.Name, strings.Join(missing, "/")),
			Description: "会话 Cookie 缺少安全属性，可能被脚本读取或经明文传输",
			Severity:    scan.SeverityLow,
			Location:    target,
			Evidence:    "Set-Cookie: " + c.Name,
			CWE:         "CWE-614",
			Category:    "cookie",
		})
	}
	return findings
}

func disclosure(target, header, value string) scan.Finding {
	return scan.Finding{
		Source:      baselineSourceHeaders,
		Title:       header + " header discloses version",
		Description: "响应头暴露服务端组件信息",
		Severity:    scan.SeverityInfo,
		Location:    target,
		Evidence:    header + ": " + value,
		CWE:         "CWE-200",
		Category:    "information_disclosure",
	}
}
