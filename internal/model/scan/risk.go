package scan

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelNone     RiskLevel = "none"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// SeveritySummary 各等级漏洞数量统计
type SeveritySummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Count 返回指定等级的数量
func (s SeveritySummary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	}
	return 0
}

// RiskResult 风险评估结果，不单独持久化
type RiskResult struct {
	Score   int             `json:"score"`
	Level   RiskLevel       `json:"level"`
	Summary SeveritySummary `json:"summary"`
}
