package parser

import (
	"strings"

	"neoaudit/internal/model/scan"
)

// SeverityTable 工具原始等级 -> 标准等级，key 为小写
type SeverityTable map[string]scan.Severity

// Map 查表，未命中返回 medium
func (t SeverityTable) Map(raw string) scan.Severity {
	if sev, ok := t[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return scan.DefaultSeverity
}

var (
	// ZAP risk 既有文字也有 riskcode 数字
	zapRisk = SeverityTable{
		"informational": scan.SeverityInfo,
		"info":          scan.SeverityInfo,
		"low":           scan.SeverityLow,
		"medium":        scan.SeverityMedium,
		"high":          scan.SeverityHigh,
		"0":             scan.SeverityInfo,
		"1":             scan.SeverityLow,
		"2":             scan.SeverityMedium,
		"3":             scan.SeverityHigh,
	}

	banditSeverity = SeverityTable{
		"low":    scan.SeverityLow,
		"medium": scan.SeverityMedium,
		"high":   scan.SeverityHigh,
	}

	npmSeverity = SeverityTable{
		"info":     scan.SeverityInfo,
		"low":      scan.SeverityLow,
		"moderate": scan.SeverityMedium,
		"high":     scan.SeverityHigh,
		"critical": scan.SeverityCritical,
	}

	trivySeverity = SeverityTable{
		"low":      scan.SeverityLow,
		"medium":   scan.SeverityMedium,
		"high":     scan.SeverityHigh,
		"critical": scan.SeverityCritical,
	}

	nucleiSeverity = SeverityTable{
		"info":     scan.SeverityInfo,
		"low":      scan.SeverityLow,
		"medium":   scan.SeverityMedium,
		"high":     scan.SeverityHigh,
		"critical": scan.SeverityCritical,
	}
)
