// Package parser 将各工具的原始输出归一化为 scan.Finding
// 每个工具一个解析器，解析器可以返回 error，但对外统一通过 Normalize 调用，
// Normalize 不会 panic 也不会返回 error，异常输入得到空列表并记录警告
package parser

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
)

// Parser 定义结果解析接口
type Parser interface {
	Parse(raw []byte) ([]scan.Finding, error)
}

// ParserFunc 函数适配
type ParserFunc func(raw []byte) ([]scan.Finding, error)

// Parse 实现 Parser
func (f ParserFunc) Parse(raw []byte) ([]scan.Finding, error) {
	return f(raw)
}

// 内置解析器名称
const (
	ToolZap      = "zap"
	ToolPipAudit = "pip_audit"
	ToolBandit   = "bandit"
	ToolNpmAudit = "npm_audit"
	ToolTrivy    = "trivy"
	ToolNuclei   = "nuclei"
)

var (
	mu      sync.RWMutex
	parsers = map[string]Parser{
		ToolZap:      ParserFunc(ParseZapAlerts),
		ToolPipAudit: ParserFunc(ParsePipAudit),
		ToolBandit:   ParserFunc(ParseBandit),
		ToolNpmAudit: ParserFunc(ParseNpmAudit),
		ToolTrivy:    ParserFunc(ParseTrivy),
		ToolNuclei:   ParserFunc(ParseNuclei),
	}
)

// Register 注册或替换解析器
func Register(name string, p Parser) {
	mu.Lock()
	defer mu.Unlock()
	parsers[name] = p
}

// Get 获取解析器
func Get(name string) (Parser, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := parsers[name]
	return p, ok
}

// Names 已注册的解析器名称
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize 调用解析器并兜底
// source 写入每条 Finding 的 Source 字段，未映射的等级统一为 medium
func Normalize(source string, p Parser, raw []byte) (findings []scan.Finding) {
	findings = []scan.Finding{}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"source": source,
				"panic":  fmt.Sprint(r),
			}).Warn("parser panicked, output discarded")
			findings = []scan.Finding{}
		}
	}()

	if p == nil || len(bytes.TrimSpace(raw)) == 0 {
		return findings
	}

	parsed, err := p.Parse(raw)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"source": source,
			"error":  err.Error(),
			"bytes":  len(raw),
		}).Warn("malformed tool output, treated as zero findings")
		return findings
	}

	for _, f := range parsed {
		if !f.Severity.Valid() {
			f.Severity = scan.DefaultSeverity
		}
		f.Source = source
		findings = append(findings, f)
	}
	return findings
}

// NormalizeByName 按名称查找解析器并归一化
func NormalizeByName(source, tool string, raw []byte) []scan.Finding {
	p, ok := Get(tool)
	if !ok {
		logger.Warnf("no parser registered for tool %s", tool)
		return []scan.Finding{}
	}
	return Normalize(source, p, raw)
}
