package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"neoaudit/internal/model/scan"
)

// npm 7+ 格式
type npmAuditV7 struct {
	Vulnerabilities map[string]struct {
		Name     string            `json:"name"`
		Severity string            `json:"severity"`
		Range    string            `json:"range"`
		Via      []json.RawMessage `json:"via"`
	} `json:"vulnerabilities"`
}

type npmVia struct {
	Source   int      `json:"source"`
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Severity string   `json:"severity"`
	CWE      []string `json:"cwe"`
	Range    string   `json:"range"`
}

// npm 6 格式
type npmAuditV6 struct {
	Advisories map[string]struct {
		ModuleName         string `json:"module_name"`
		Severity           string `json:"severity"`
		Title              string `json:"title"`
		Overview           string `json:"overview"`
		URL                string `json:"url"`
		CWE                string `json:"cwe"`
		VulnerableVersions string `json:"vulnerable_versions"`
	} `json:"advisories"`
}

// ParseNpmAudit 解析 npm audit --json，兼容 v6 advisories 与 v7 vulnerabilities
// 输出按包名排序保证稳定
func ParseNpmAudit(raw []byte) ([]scan.Finding, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode npm audit: %w", err)
	}
	if _, ok := probe["vulnerabilities"]; ok {
		return parseNpmV7(raw)
	}
	if _, ok := probe["advisories"]; ok {
		return parseNpmV6(raw)
	}
	// 无漏洞时 npm 可能只输出 metadata
	return nil, nil
}

func parseNpmV7(raw []byte) ([]scan.Finding, error) {
	var report npmAuditV7
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode npm audit v7: %w", err)
	}

	names := make([]string, 0, len(report.Vulnerabilities))
	for name := range report.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []scan.Finding
	for _, name := range names {
		v := report.Vulnerabilities[name]
		var transitive []string
		direct := 0
		for _, rawVia := range v.Via {
			var via npmVia
			if err := json.Unmarshal(rawVia, &via); err != nil {
				// 字符串形式表示经由其他包引入
				var dep string
				if json.Unmarshal(rawVia, &dep) == nil {
					transitive = append(transitive, dep)
				}
				continue
			}
			direct++
			f := scan.Finding{
				Title:       via.Title,
				Description: via.URL,
				Severity:    npmSeverity.Map(via.Severity),
				Location:    fmt.Sprintf("%s@%s", name, via.Range),
				Evidence:    "vulnerable range " + via.Range,
				Category:    "vulnerable-dependency",
			}
			if len(via.CWE) > 0 {
				f.CWE = via.CWE[0]
			}
			findings = append(findings, f)
		}
		if direct == 0 && len(transitive) > 0 {
			findings = append(findings, scan.Finding{
				Title:    fmt.Sprintf("%s depends on vulnerable %s", name, strings.Join(transitive, ", ")),
				Severity: npmSeverity.Map(v.Severity),
				Location: fmt.Sprintf("%s@%s", name, v.Range),
				Evidence: "transitive via " + strings.Join(transitive, ", "),
				Category: "vulnerable-dependency",
			})
		}
	}
	return findings, nil
}

func parseNpmV6(raw []byte) ([]scan.Finding, error) {
	var report npmAuditV6
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode npm audit v6: %w", err)
	}

	ids := make([]string, 0, len(report.Advisories))
	for id := range report.Advisories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	findings := make([]scan.Finding, 0, len(ids))
	for _, id := range ids {
		a := report.Advisories[id]
		findings = append(findings, scan.Finding{
			Title:       a.Title,
			Description: strings.TrimSpace(a.Overview),
			Severity:    npmSeverity.Map(a.Severity),
			Location:    fmt.Sprintf("%s@%s", a.ModuleName, a.VulnerableVersions),
			Evidence:    a.URL,
			CWE:         a.CWE,
			Category:    "vulnerable-dependency",
		})
	}
	return findings, nil
}
