package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"neoaudit/internal/model/scan"
)

type pipAuditDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Vulns   []struct {
		ID          string   `json:"id"`
		FixVersions []string `json:"fix_versions"`
		Aliases     []string `json:"aliases"`
		Description string   `json:"description"`
	} `json:"vulns"`
}

// ParsePipAudit 解析 pip-audit -f json
// 新版输出 {"dependencies":[...]}，旧版直接输出数组
// pip-audit 不提供等级，统一为 medium
func ParsePipAudit(raw []byte) ([]scan.Finding, error) {
	var deps []pipAuditDependency
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &deps); err != nil {
			return nil, fmt.Errorf("decode pip-audit list: %w", err)
		}
	} else {
		var doc struct {
			Dependencies []pipAuditDependency `json:"dependencies"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode pip-audit: %w", err)
		}
		deps = doc.Dependencies
	}

	var findings []scan.Finding
	for _, dep := range deps {
		for _, v := range dep.Vulns {
			title := v.ID
			if len(v.Aliases) > 0 {
				title = fmt.Sprintf("%s (%s)", v.ID, strings.Join(v.Aliases, ", "))
			}
			evidence := "no fix available"
			if len(v.FixVersions) > 0 {
				evidence = "fixed in " + strings.Join(v.FixVersions, ", ")
			}
			findings = append(findings, scan.Finding{
				Title:       title,
				Description: strings.TrimSpace(v.Description),
				Severity:    scan.DefaultSeverity,
				Location:    dep.Name + "@" + dep.Version,
				Evidence:    evidence,
				Category:    "vulnerable-dependency",
			})
		}
	}
	return findings, nil
}
