package analysis

import (
	"fmt"
	"strings"

	"github.com/dshills/filingcheck/internal/schema"
)

// ScoreThreshold is the average score below which a session is flagged for
// compliance improvement.
const ScoreThreshold = 0.7

// Recommendations are the follow-up actions derived from a session.
type Recommendations struct {
	Priority []string `json:"priority"`
	General  []string `json:"general"`
}

var generalGuidance = []string{
	"Ensure all jurisdiction clauses specify the ADGM Courts.",
	"Verify all documents are signed and dated.",
	"Review beneficial ownership declarations for completeness.",
	"Confirm the registered office address is within ADGM.",
}

// Recommend derives priority actions from a session's statistics.
func Recommend(session schema.SessionAnalysis) Recommendations {
	st := session.Stats
	rec := Recommendations{
		Priority: []string{},
		General:  append([]string(nil), generalGuidance...),
	}

	violated := 0
	for _, d := range session.Documents {
		violated += len(d.Report.ViolatedRules)
	}
	if n := st.TotalIssues + violated; n > 0 {
		rec.Priority = append(rec.Priority,
			fmt.Sprintf("Address %d issues found: review all flagged sections and violated rules.", n))
	}
	if st.DocumentsProcessed > 0 && st.AverageScore < ScoreThreshold {
		rec.Priority = append(rec.Priority,
			fmt.Sprintf("Improve overall compliance: the average score %.2f is below %.2f. Focus on jurisdiction clauses and required sections.",
				st.AverageScore, ScoreThreshold))
	}
	if len(st.MissingDocuments) > 0 {
		names := make([]string, len(st.MissingDocuments))
		for i, d := range st.MissingDocuments {
			names[i] = string(d)
		}
		rec.Priority = append(rec.Priority,
			"Complete required documents. Missing: "+strings.Join(names, ", ")+".")
	}
	if st.DocumentsFailed > 0 {
		rec.Priority = append(rec.Priority,
			fmt.Sprintf("Resubmit %d document(s) that could not be read.", st.DocumentsFailed))
	}
	return rec
}
