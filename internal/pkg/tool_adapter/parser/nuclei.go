package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"neoaudit/internal/model/scan"
)

type nucleiResult struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Name           string `json:"name"`
		Severity       string `json:"severity"`
		Description    string `json:"description"`
		Classification struct {
			CWEID []string `json:"cwe-id"`
		} `json:"classification"`
		Tags json.RawMessage `json:"tags"`
	} `json:"info"`
	Type             string   `json:"type"`
	Host             string   `json:"host"`
	MatchedAt        string   `json:"matched-at"`
	MatcherName      string   `json:"matcher-name"`
	ExtractedResults []string `json:"extracted-results"`
}

// ParseNuclei 解析 nuclei -jsonl 输出（每行一个对象），也兼容 -json-export 的数组格式
// 单行损坏时跳过该行，全部无法解析才返回错误
func ParseNuclei(raw []byte) ([]scan.Finding, error) {
	trimmed := bytes.TrimSpace(raw)
	var results []nucleiResult

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decode nuclei export: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		lines, bad := 0, 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			lines++
			var r nucleiResult
			if err := json.Unmarshal(line, &r); err != nil {
				bad++
				continue
			}
			results = append(results, r)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read nuclei output: %w", err)
		}
		if lines > 0 && bad == lines {
			return nil, fmt.Errorf("no valid nuclei result in %d lines", lines)
		}
	}

	findings := make([]scan.Finding, 0, len(results))
	for _, r := range results {
		if r.TemplateID == "" && r.Info.Name == "" {
			continue
		}
		title := r.Info.Name
		if title == "" {
			title = r.TemplateID
		}
		location := r.MatchedAt
		if location == "" {
			location = r.Host
		}
		evidence := r.TemplateID
		if r.MatcherName != "" {
			evidence += ":" + r.MatcherName
		}
		if len(r.ExtractedResults) > 0 {
			evidence += " " + strings.Join(r.ExtractedResults, ", ")
		}
		f := scan.Finding{
			Title:       title,
			Description: strings.TrimSpace(r.Info.Description),
			Severity:    nucleiSeverity.Map(r.Info.Severity),
			Location:    location,
			Evidence:    evidence,
			Category:    "nuclei:" + r.Type,
		}
		if len(r.Info.Classification.CWEID) > 0 {
			f.CWE = strings.ToUpper(r.Info.Classification.CWEID[0])
		}
		findings = append(findings, f)
	}
	return findings, nil
}
