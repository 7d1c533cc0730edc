/**
 * API 攻击策略
 * @author: sun977
 * @date: 2026.10.14
 * @description: 按速率限制重放攻击请求，根据响应匹配规则生成漏洞
 */
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/version"
)

const (
	defaultAttackRate    = 10.0
	defaultAttackTimeout = 10 * time.Second
	defaultMaxBodyBytes  = 1 << 20
	evidenceSnippetLen   = 200
)

// AttackRunner api_attack 策略
type AttackRunner struct {
	generator PayloadGenerator
	client    *http.Client
	rate      float64
	timeout   time.Duration
	maxBody   int64
}

// NewAttackRunner 创建 API 攻击策略
func NewAttackRunner(generator PayloadGenerator, cfg *config.AttackScanConfig) *AttackRunner {
	r := &AttackRunner{
		generator: generator,
		rate:      defaultAttackRate,
		timeout:   defaultAttackTimeout,
		maxBody:   defaultMaxBodyBytes,
	}
	if cfg != nil {
		if cfg.RateLimit > 0 {
			r.rate = cfg.RateLimit
		}
		if cfg.RequestTimeout > 0 {
			r.timeout = cfg.RequestTimeout
		}
		if cfg.MaxBodyBytes > 0 {
			r.maxBody = cfg.MaxBodyBytes
		}
		if generator == nil {
			r.generator = NewDSLGenerator(cfg.DSLDir)
		}
	}
	if r.generator == nil {
		r.generator = NewDSLGenerator("")
	}
	// 攻击请求不跟随跳转，重定向本身可能就是判定依据
	r.client = &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return r
}

// Name 返回扫描类型
func (r *AttackRunner) Name() scan.ScanType {
	return scan.ScanTypeAPIAttack
}

// Run 展开全部套件并依次重放
func (r *AttackRunner) Run(ctx context.Context, exec *Execution) (*Result, error) {
	res := newResult()

	suites, err := r.generator.Generate(ctx, exec.Target, exec.Config)
	if err != nil {
		return nil, fmt.Errorf("generate attack payloads: %w", err)
	}
	var cases []*AttackCase
	for _, s := range suites {
		expanded, err := s.Expand(exec.Target)
		if err != nil {
			return nil, fmt.Errorf("expand suite %s: %w", s.Name, err)
		}
		cases = append(cases, expanded...)
	}
	if len(cases) == 0 {
		res.Warnings = append(res.Warnings, "no attack cases generated")
		exec.report(100)
		return res, nil
	}

	limiter := rate.NewLimiter(rate.Limit(r.rate), 1)
	failures := 0
	for i, c := range cases {
		if exec.shouldStop() {
			res.Reason = scan.FinishReasonStopped
			return res, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if exec.shouldStop() {
				res.Reason = scan.FinishReasonStopped
				return res, nil
			}
			return res, err
		}

		var (
			status int
			body   []byte
		)
		out := tool_adapter.Call(ctx, "http.attack", r.timeout, func(cctx context.Context) error {
			var err error
			status, body, err = r.send(cctx, c)
			return err
		})
		if out.OK() {
			if c.Request.Matches(status, body, c.Payload) {
				res.Findings = append(res.Findings, attackFinding(c, status, body))
			}
		} else {
			failures++
			logger.WithFields(map[string]interface{}{
				"task_id": exec.TaskID,
				"request": c.Request.ID,
				"outcome": string(out.Kind),
			}).Debug("attack request failed")
		}
		exec.report((i + 1) * 100 / len(cases))
	}

	if failures > 0 {
		res.degrade(fmt.Sprintf("%d of %d attack requests failed", failures, len(cases)))
	}
	return res, nil
}

// send 发送一次请求，响应体按上限截断
func (r *AttackRunner) send(ctx context.Context, c *AttackCase) (int, []byte, error) {
	var body io.Reader
	if c.Body != "" {
		body = strings.NewReader(c.Body)
	}
	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", version.GetUserAgent())
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func attackFinding(c *AttackCase, status int, body []byte) scan.Finding {
	title := c.Request.ID
	if c.Request.Category != "" {
		title = fmt.Sprintf("%s (%s)", c.Request.Category, c.Request.ID)
	}
	severity := scan.DefaultSeverity
	if c.Request.Severity != "" {
		severity = scan.ParseSeverity(c.Request.Severity)
	}
	return scan.Finding{
		Source:      string(scan.ScanTypeAPIAttack) + ":" + c.Suite,
		Title:       title,
		Description: fmt.Sprintf("攻击请求 %s 命中匹配规则", c.Request.ID),
		Severity:    severity,
		Location:    c.Method + " " + c.URL,
		Evidence:    fmt.Sprintf("payload=%q status=%d body=%q", c.Payload, status, snippet(body, c.Payload)),
		CWE:         c.Request.CWE,
		Category:    c.Request.Category,
	}
}

// snippet 截取载荷附近的响应片段
func snippet(body []byte, payload string) string {
	start := 0
	if payload != "" {
		if idx := bytes.Index(body, []byte(payload)); idx > evidenceSnippetLen/2 {
			start = idx - evidenceSnippetLen/2
		}
	}
	end := start + evidenceSnippetLen
	if end > len(body) {
		end = len(body)
	}
	if start > end {
		start = end
	}
	return string(body[start:end])
}
