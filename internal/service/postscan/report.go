package postscan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"neoaudit/internal/model/scan"
)

// DefaultReportTemplate 内置 Markdown 报告模板
const DefaultReportTemplate = `# 扫描报告 #{{ .TaskID }}

- 扫描类型: {{ .ScanType }}
- 扫描目标: {{ .Target }}
- 开始时间: {{ .StartTime | date "2006-01-02 15:04:05" }}
- 耗时: {{ .Duration }}
- 结束原因: {{ .FinishReason }}

## 风险评估

| 风险评分 | 风险等级 | 严重 | 高危 | 中危 | 低危 | 信息 | 合计 |
|---|---|---|---|---|---|---|---|
| {{ .Risk.Score }} | {{ .Risk.Level }} | {{ .Risk.Summary.Critical }} | {{ .Risk.Summary.High }} | {{ .Risk.Summary.Medium }} | {{ .Risk.Summary.Low }} | {{ .Risk.Summary.Info }} | {{ .Risk.Summary.Total }} |
{{ if .Warnings }}
## 告警
{{ range .Warnings }}
- {{ . }}
{{- end }}
{{ end }}
## 漏洞详情
{{ if not .Findings }}
未发现漏洞。
{{- else }}
{{- range $i, $f := .Findings }}

### {{ add1 $i }}. [{{ $f.Severity | toString | upper }}] {{ $f.Title }}

- 来源: {{ $f.Source }}
- 位置: {{ $f.Location }}
{{- if $f.CWE }}
- CWE: {{ $f.CWE }}
{{- end }}
{{- if $f.Description }}

{{ $f.Description | trunc 2000 }}
{{- end }}
{{- if $f.Evidence }}

` + "```" + `
{{ $f.Evidence | trunc 1000 }}
` + "```" + `
{{- end }}
{{- end }}
{{- end }}
`

// TemplateRenderer 基于 text/template + sprig 的 Markdown 报告渲染器
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer 创建渲染器，templateFile 为空时使用内置模板
func NewTemplateRenderer(templateFile string) (*TemplateRenderer, error) {
	text := DefaultReportTemplate
	if templateFile != "" {
		data, err := os.ReadFile(templateFile)
		if err != nil {
			return nil, fmt.Errorf("read report template: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("report").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &TemplateRenderer{tmpl: tmpl}, nil
}

// Render 渲染报告，发现按严重程度降序排列
func (r *TemplateRenderer) Render(ctx context.Context, in *Input) (string, error) {
	view := *in
	view.Findings = append([]scan.Finding(nil), in.Findings...)
	sort.SliceStable(view.Findings, func(i, j int) bool {
		return view.Findings[i].Severity.Rank() > view.Findings[j].Severity.Rank()
	})

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, &view); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
