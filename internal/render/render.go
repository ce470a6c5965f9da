package render

import (
	"fmt"
	"time"

	"github.com/dshills/filingcheck/internal/analysis"
	"github.com/dshills/filingcheck/internal/schema"
)

// Report is a rendered session: the analysis plus derived recommendations.
type Report struct {
	Tool            string                   `json:"tool"`
	Version         string                   `json:"version"`
	GeneratedAt     time.Time                `json:"generated_at"`
	Session         schema.SessionAnalysis   `json:"session"`
	Recommendations analysis.Recommendations `json:"recommendations"`
}

// NewReport wraps a session with its recommendations.
func NewReport(version string, session schema.SessionAnalysis) *Report {
	return &Report{
		Tool:            "filingcheck",
		Version:         version,
		GeneratedAt:     time.Now().UTC(),
		Session:         session,
		Recommendations: analysis.Recommend(session),
	}
}

// Renderer formats session reports and answers into bytes for output.
type Renderer interface {
	Render(report *Report) ([]byte, error)
	RenderAnswer(answer *schema.Answer) ([]byte, error)
}

// Formats lists the supported format names.
var Formats = []string{"json", "md", "csv"}

// NewRenderer returns a Renderer for the given format string.
// Supported formats: "json" (default), "md", "csv".
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case "json":
		return &jsonRenderer{}, nil
	case "md":
		return &markdownRenderer{}, nil
	case "csv":
		return &csvRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: supported formats are json, md, csv", format)
	}
}
