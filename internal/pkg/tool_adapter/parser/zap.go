package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"neoaudit/internal/model/scan"
)

// ZapAlert ZAP core/view/alerts 返回的单条告警
type ZapAlert struct {
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	Param       string `json:"param"`
	Attack      string `json:"attack"`
	Evidence    string `json:"evidence"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	CWEID       string `json:"cweid"`
	PluginID    string `json:"pluginId"`
}

type zapAlertsResponse struct {
	Alerts []ZapAlert `json:"alerts"`
}

// ParseZapAlerts 解析 {"alerts":[...]}，误报（False Positive）丢弃
func ParseZapAlerts(raw []byte) ([]scan.Finding, error) {
	var resp zapAlertsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode zap alerts: %w", err)
	}
	return ZapAlertsToFindings(resp.Alerts), nil
}

// ZapAlertsToFindings 告警转换
func ZapAlertsToFindings(alerts []ZapAlert) []scan.Finding {
	findings := make([]scan.Finding, 0, len(alerts))
	for _, a := range alerts {
		if strings.EqualFold(a.Confidence, "false positive") {
			continue
		}
		title := a.Alert
		if title == "" {
			title = a.Name
		}
		location := a.URL
		if a.Param != "" {
			location = fmt.Sprintf("%s [param: %s]", a.URL, a.Param)
		}
		evidence := a.Evidence
		if a.Attack != "" {
			evidence = strings.TrimSpace(fmt.Sprintf("attack: %s %s", a.Attack, a.Evidence))
		}
		f := scan.Finding{
			Title:       title,
			Description: strings.TrimSpace(a.Description),
			Severity:    zapRisk.Map(a.Risk),
			Location:    location,
			Evidence:    evidence,
			Category:    "zap:" + a.PluginID,
		}
		if a.CWEID != "" && a.CWEID != "0" && a.CWEID != "-1" {
			f.CWE = "CWE-" + a.CWEID
		}
		findings = append(findings, f)
	}
	return findings
}
