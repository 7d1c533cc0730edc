package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"neoaudit/internal/model/scan"
)

type banditReport struct {
	Results []struct {
		Filename        string `json:"filename"`
		LineNumber      int    `json:"line_number"`
		IssueSeverity   string `json:"issue_severity"`
		IssueConfidence string `json:"issue_confidence"`
		IssueText       string `json:"issue_text"`
		TestID          string `json:"test_id"`
		TestName        string `json:"test_name"`
		Code            string `json:"code"`
		IssueCWE        *struct {
			ID int `json:"id"`
		} `json:"issue_cwe"`
	} `json:"results"`
}

// ParseBandit 解析 bandit -f json
func ParseBandit(raw []byte) ([]scan.Finding, error) {
	var report banditReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode bandit: %w", err)
	}

	findings := make([]scan.Finding, 0, len(report.Results))
	for _, r := range report.Results {
		f := scan.Finding{
			Title:       fmt.Sprintf("%s %s", r.TestID, r.TestName),
			Description: r.IssueText,
			Severity:    banditSeverity.Map(r.IssueSeverity),
			Location:    fmt.Sprintf("%s:%d", r.Filename, r.LineNumber),
			Evidence:    strings.TrimSpace(r.Code),
			Category:    "static-analysis",
		}
		if r.IssueCWE != nil && r.IssueCWE.ID > 0 {
			f.CWE = fmt.Sprintf("CWE-%d", r.IssueCWE.ID)
		}
		findings = append(findings, f)
	}
	return findings, nil
}
