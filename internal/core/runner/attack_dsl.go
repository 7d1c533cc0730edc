/**
 * API 攻击 DSL
 * @author: sun977
 * @date: 2026.10.14
 * @description: YAML 攻击套件的定义、加载与展开；载荷生成可替换为外部生成器
 */
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/utils"
)

var (
	// ErrDSLFileNotAllowed dsl_file 不在 DSL 目录内或不可读
	ErrDSLFileNotAllowed = errors.New("dsl file not allowed")
	// ErrInvalidSuite 攻击套件格式错误
	ErrInvalidSuite = errors.New("invalid attack suite")
)

// AttackSuite 一组攻击请求
type AttackSuite struct {
	Name     string           `yaml:"name"`
	Requests []*AttackRequest `yaml:"requests"`
}

// AttackRequest 单个请求模板
// Path / Body / Headers 的值均为模板，可使用 {{.Payload}}、{{.Target}} 及 sprig 函数
type AttackRequest struct {
	ID       string            `yaml:"id"`
	Method   string            `yaml:"method"`
	Path     string            `yaml:"path"`
	Headers  map[string]string `yaml:"headers"`
	Body     string            `yaml:"body"`
	Payloads []string          `yaml:"payloads"`
	Category string            `yaml:"category"`
	CWE      string            `yaml:"cwe"`
	Severity string            `yaml:"severity"`
	Match    MatchRule         `yaml:"match"`

	bodyRegex []*regexp.Regexp
}

// MatchRule 响应判定规则
// 各类条件之间为与关系，同类条件内为或关系；未配置任何条件的请求不产生发现
type MatchRule struct {
	Status       []int    `yaml:"status"`
	BodyContains []string `yaml:"body_contains"`
	BodyRegex    []string `yaml:"body_regex"`
	Reflected    bool     `yaml:"reflected"`
}

// Empty 是否未配置任何条件
func (m MatchRule) Empty() bool {
	return len(m.Status) == 0 && len(m.BodyContains) == 0 && len(m.BodyRegex) == 0 && !m.Reflected
}

// AttackCase 展开后的一次请求
type AttackCase struct {
	Suite   string
	Request *AttackRequest
	Payload string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// ParseSuite 解析并校验 YAML 攻击套件
func ParseSuite(data []byte) (*AttackSuite, error) {
	var suite AttackSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse attack suite: %w", err)
	}
	if suite.Name == "" {
		suite.Name = "default"
	}
	for i, req := range suite.Requests {
		if req == nil {
			return nil, fmt.Errorf("suite %s: request #%d is empty", suite.Name, i)
		}
		if req.ID == "" {
			req.ID = fmt.Sprintf("req-%d", i+1)
		}
		if req.Path == "" {
			return nil, fmt.Errorf("suite %s: request %s has no path", suite.Name, req.ID)
		}
		req.Method = strings.ToUpper(req.Method)
		if req.Method == "" {
			req.Method = "GET"
		}
		for _, expr := range req.Match.BodyRegex {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("suite %s: request %s: bad body_regex %q: %w", suite.Name, req.ID, expr, err)
			}
			req.bodyRegex = append(req.bodyRegex, re)
		}
	}
	return &suite, nil
}

// Expand 将套件展开为具体请求，每个载荷一次；无载荷的请求发送一次
func (s *AttackSuite) Expand(target string) ([]*AttackCase, error) {
	base := strings.TrimRight(utils.NormalizeTargetURL(target), "/")
	var cases []*AttackCase
	for _, req := range s.Requests {
		payloads := req.Payloads
		if len(payloads) == 0 {
			payloads = []string{""}
		}
		for _, payload := range payloads {
			data := map[string]interface{}{"Payload": payload, "Target": base}
			path, err := render(req.Path, data)
			if err != nil {
				return nil, fmt.Errorf("request %s path: %w", req.ID, err)
			}
			body, err := render(req.Body, data)
			if err != nil {
				return nil, fmt.Errorf("request %s body: %w", req.ID, err)
			}
			headers := make(map[string]string, len(req.Headers))
			for k, v := range req.Headers {
				if headers[k], err = render(v, data); err != nil {
					return nil, fmt.Errorf("request %s header %s: %w", req.ID, k, err)
				}
			}
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			cases = append(cases, &AttackCase{
				Suite:   s.Name,
				Request: req,
				Payload: payload,
				Method:  req.Method,
				URL:     base + path,
				Headers: headers,
				Body:    body,
			})
		}
	}
	return cases, nil
}

// Matches 判定响应是否命中
func (r *AttackRequest) Matches(status int, body []byte, payload string) bool {
	m := r.Match
	if m.Empty() {
		return false
	}
	if len(m.Status) > 0 && !containsInt(m.Status, status) {
		return false
	}
	if len(m.BodyContains) > 0 {
		hit := false
		for _, s := range m.BodyContains {
			if bytes.Contains(body, []byte(s)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(r.bodyRegex) > 0 {
		hit := false
		for _, re := range r.bodyRegex {
			if re.Match(body) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if m.Reflected && (payload == "" || !bytes.Contains(body, []byte(payload))) {
		return false
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func render(tmpl string, data map[string]interface{}) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New("dsl").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PayloadGenerator 攻击载荷来源
// 默认实现读取 YAML 套件，外部生成器（如模型生成）实现同一接口即可接入
type PayloadGenerator interface {
	Generate(ctx context.Context, target string, config map[string]interface{}) ([]*AttackSuite, error)
}

// DSLGenerator 从任务配置或目录加载攻击套件
// 来源优先级：config["dsl"] 内联 YAML > config["dsl_file"] > 目录下全部 *.yaml / *.yml
type DSLGenerator struct {
	Dir string
}

// NewDSLGenerator 创建 DSL 生成器
func NewDSLGenerator(dir string) *DSLGenerator {
	return &DSLGenerator{Dir: dir}
}

// Generate 加载攻击套件
func (g *DSLGenerator) Generate(ctx context.Context, target string, cfg map[string]interface{}) ([]*AttackSuite, error) {
	if inline := utils.MapString(cfg, "dsl", ""); inline != "" {
		suite, err := ParseSuite([]byte(inline))
		if err != nil {
			return nil, err
		}
		return []*AttackSuite{suite}, nil
	}
	if file := utils.MapString(cfg, "dsl_file", ""); file != "" {
		path, err := g.resolveFile(file)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not readable", ErrDSLFileNotAllowed, file)
		}
		suite, err := ParseSuite(data)
		if err != nil {
			// 解析错误可能带出文件内容，只写日志
			logger.Warnf("attack suite %s: %v", path, err)
			return nil, fmt.Errorf("%w: %s", ErrInvalidSuite, file)
		}
		return []*AttackSuite{suite}, nil
	}
	return g.loadDir(ctx)
}

// resolveFile 将 dsl_file 限定在 DSL 目录内，相对路径基于该目录
func (g *DSLGenerator) resolveFile(file string) (string, error) {
	if g.Dir == "" {
		return "", fmt.Errorf("%w: dsl dir is not configured", ErrDSLFileNotAllowed)
	}
	root, err := filepath.Abs(g.Dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDSLFileNotAllowed, file)
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	// 软链接按真实路径判断
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the dsl dir", ErrDSLFileNotAllowed, file)
	}
	return path, nil
}

// loadDir 目录不存在视为没有套件，单个文件错误只跳过该文件
func (g *DSLGenerator) loadDir(ctx context.Context) ([]*AttackSuite, error) {
	if g.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(g.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("attack dsl dir %s does not exist", g.Dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read dsl dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(g.Dir, e.Name()))
		}
	}
	sort.Strings(files)

	var suites []*AttackSuite
	for _, file := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Warnf("skip attack suite %s: %v", file, err)
			continue
		}
		suite, err := ParseSuite(data)
		if err != nil {
			logger.Warnf("skip attack suite %s: %v", file, err)
			continue
		}
		suites = append(suites, suite)
	}
	return suites, nil
}
