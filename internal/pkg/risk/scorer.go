// Package risk 风险评分
package risk

import (
	"neoaudit/internal/model/scan"
)

// 各等级权重
var weights = map[scan.Severity]int{
	scan.SeverityCritical: 50,
	scan.SeverityHigh:     25,
	scan.SeverityMedium:   10,
	scan.SeverityLow:      3,
	scan.SeverityInfo:     0,
}

// 等级阈值，由高到低匹配
var thresholds = []struct {
	min   int
	level scan.RiskLevel
}{
	{75, scan.RiskLevelCritical},
	{50, scan.RiskLevelHigh},
	{20, scan.RiskLevelMedium},
	{1, scan.RiskLevelLow},
}

// MaxScore 分数上限
const MaxScore = 100

// Score 计算风险结果
// 只依赖各等级数量，与输入顺序无关；增加任何漏洞都不会使分数下降
func Score(findings []scan.Finding) scan.RiskResult {
	summary := Summarize(findings)

	total := summary.Critical*weights[scan.SeverityCritical] +
		summary.High*weights[scan.SeverityHigh] +
		summary.Medium*weights[scan.SeverityMedium] +
		summary.Low*weights[scan.SeverityLow]
	if total > MaxScore {
		total = MaxScore
	}

	return scan.RiskResult{
		Score:   total,
		Level:   LevelFor(total),
		Summary: summary,
	}
}

// Summarize 按等级计数，非标准等级按 medium 计
func Summarize(findings []scan.Finding) scan.SeveritySummary {
	var s scan.SeveritySummary
	for _, f := range findings {
		sev := f.Severity
		if !sev.Valid() {
			sev = scan.DefaultSeverity
		}
		switch sev {
		case scan.SeverityCritical:
			s.Critical++
		case scan.SeverityHigh:
			s.High++
		case scan.SeverityMedium:
			s.Medium++
		case scan.SeverityLow:
			s.Low++
		case scan.SeverityInfo:
			s.Info++
		}
		s.Total++
	}
	return s
}

// LevelFor 分数映射为等级
func LevelFor(score int) scan.RiskLevel {
	for _, t := range thresholds {
		if score >= t.min {
			return t.level
		}
	}
	return scan.RiskLevelNone
}
