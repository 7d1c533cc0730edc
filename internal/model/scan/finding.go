package scan

import "strings"

// Severity 漏洞严重程度，有序枚举 info < low < medium < high < critical
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity 无法映射时的兜底等级
const DefaultSeverity = SeverityMedium

// AllSeverities 由低到高
var AllSeverities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank 返回排序值，未知等级按 medium 处理
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[DefaultSeverity]
}

// Valid 是否为标准等级
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast s >= other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity 通用的严重程度解析，兼容常见别名
// 各工具自己的映射表在 parser 包中，这里只处理标准名称和少量通用写法
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info", "informational", "information", "none", "unknown":
		return SeverityInfo
	case "low", "minor":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	case "high", "important", "major":
		return SeverityHigh
	case "critical", "severe":
		return SeverityCritical
	default:
		return DefaultSeverity
	}
}

// Finding 归一化后的漏洞记录，与来源工具无关
type Finding struct {
	Source      string   `json:"source"`             // 来源策略/工具，如 dependency_scan:bandit
	Title       string   `json:"title"`              // 标题
	Description string   `json:"description"`        // 描述
	Severity    Severity `json:"severity"`           // 严重程度
	Location    string   `json:"location"`           // URL / 文件路径 / 包名@版本
	Evidence    string   `json:"evidence,omitempty"` // 原始证据
	CWE         string   `json:"cwe,omitempty"`      // CWE 编号
	Category    string   `json:"category,omitempty"` // 分类
}
