package render

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/dshills/filingcheck/internal/schema"
)

type markdownRenderer struct{}

var funcs = template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
	"loc": func(i int) string {
		if i == schema.DocumentLevel {
			return "document"
		}
		return fmt.Sprintf("section %d", i)
	},
}

var mdTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`# ADGM Filing Review
{{ with .Session }}
**Session:** {{ .ID }}
**Documents:** {{ .Stats.DocumentsProcessed }} processed, {{ .Stats.DocumentsFailed }} failed
**Average score:** {{ pct .Stats.AverageScore }} | **Average risk:** {{ printf "%.2f" .Stats.AverageRiskScore }}
**Issues:** {{ .Stats.TotalIssues }} red flags | **Critical rules violated:** {{ .Stats.CriticalIssues }}
{{ if .Stats.MissingDocuments }}
**Missing documents:**{{ range .Stats.MissingDocuments }}
- {{ . }}{{ end }}
{{ end }}{{ if .Documents }}
---

## Documents
{{ range .Documents }}
### {{ .Document.Filename }} · {{ .Document.Type }} · {{ .Report.Verdict }}
{{ if .Error }}
Could not be analyzed: {{ .Error }}
{{ else }}
**Score:** {{ pct .Report.OverallScore }} | **Risk:** {{ printf "%.2f" .Report.RiskScore }} | **Critical:** {{ .Report.CriticalIssuesCount }}
{{ if .Report.ViolatedRules }}
**Violated rules:**{{ range .Report.ViolatedRules }}
- {{ . }}{{ end }}
{{ end }}{{ range .Report.RedFlags }}
#### {{ .Severity }} · {{ .Category }} · {{ loc .Location }}
{{ .Description }}

**Remediation:** {{ .Remediation }}
{{ with .Suggestion }}
Before:
` + "```" + `
{{ .Before }}
` + "```" + `
After:
` + "```" + `
{{ .After }}
` + "```" + `
{{ end }}{{ end }}{{ end }}{{ end }}{{ end }}{{ end }}
---

## Recommendations
{{ range .Recommendations.Priority }}
- **{{ . }}**{{ end }}{{ range .Recommendations.General }}
- {{ . }}{{ end }}

---
*{{ .Tool }} {{ .Version }} | {{ .GeneratedAt.Format "2006-01-02 15:04 MST" }}*
`))

var answerTemplate = template.Must(template.New("answer").Funcs(funcs).Parse(`# {{ .Question }}

{{ .Text }}

**Confidence:** {{ pct .Confidence }}{{ if .Fallback }} (templated answer: the language model was unavailable){{ end }}
{{ if .References }}
## References
{{ range .References }}
- {{ . }}{{ end }}
{{ end }}{{ if .RelatedTopics }}
## Related topics
{{ range .RelatedTopics }}
- {{ . }}{{ end }}
{{ end }}{{ if .FollowUps }}
## Follow-up questions
{{ range .FollowUps }}
- {{ . }}{{ end }}
{{ end }}`))

func (r *markdownRenderer) Render(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *markdownRenderer) RenderAnswer(answer *schema.Answer) ([]byte, error) {
	var buf bytes.Buffer
	if err := answerTemplate.Execute(&buf, answer); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
