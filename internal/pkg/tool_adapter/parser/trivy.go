package parser

import (
	"encoding/json"
	"fmt"

	"neoaudit/internal/model/scan"
)

type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Type            string `json:"Type"`
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			InstalledVersion string   `json:"InstalledVersion"`
			FixedVersion     string   `json:"FixedVersion"`
			Title            string   `json:"Title"`
			Description      string   `json:"Description"`
			Severity         string   `json:"Severity"`
			CweIDs           []string `json:"CweIDs"`
			PrimaryURL       string   `json:"PrimaryURL"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// ParseTrivy 解析 trivy fs --format json
func ParseTrivy(raw []byte) ([]scan.Finding, error) {
	var report trivyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode trivy: %w", err)
	}

	var findings []scan.Finding
	for _, res := range report.Results {
		for _, v := range res.Vulnerabilities {
			title := v.VulnerabilityID
			if v.Title != "" {
				title = fmt.Sprintf("%s: %s", v.VulnerabilityID, v.Title)
			}
			evidence := fmt.Sprintf("%s installed %s", res.Target, v.InstalledVersion)
			if v.FixedVersion != "" {
				evidence += ", fixed in " + v.FixedVersion
			}
			f := scan.Finding{
				Title:       title,
				Description: v.Description,
				Severity:    trivySeverity.Map(v.Severity),
				Location:    fmt.Sprintf("%s@%s", v.PkgName, v.InstalledVersion),
				Evidence:    evidence,
				Category:    "vulnerable-dependency:" + res.Type,
			}
			if len(v.CweIDs) > 0 {
				f.CWE = v.CweIDs[0]
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}
