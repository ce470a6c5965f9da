// Package analysis turns parsed documents into compliance records and rolls
// those records up into session-level statistics.
package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/classify"
	"github.com/dshills/filingcheck/internal/redflag"
	"github.com/dshills/filingcheck/internal/review"
	"github.com/dshills/filingcheck/internal/schema"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// AnalyzeDocument classifies, scores and checks a parsed document. The input
// document is not modified; the returned record carries classified copies of
// its sections.
func AnalyzeDocument(cat *catalog.Catalog, doc *schema.Document) schema.DocumentAnalysis {
	sections := classify.ClassifySections(cat, doc)
	report, scored := review.Score(cat, doc.Type, sections)
	flags := redflag.Detect(cat, doc.Type, scored)

	classified := *doc
	classified.Sections = scored
	return Aggregate(&classified, report, flags)
}

// Aggregate combines a document, its scored report and its red flags into one
// analysis record.
func Aggregate(doc *schema.Document, report schema.ComplianceReport, flags []schema.RedFlag) schema.DocumentAnalysis {
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	return schema.DocumentAnalysis{
		Document: schema.DocumentSummary{
			ID:             id,
			Filename:       doc.Filename,
			Type:           doc.Type,
			TypeConfidence: doc.TypeConfidence,
			SectionCount:   len(doc.Sections),
			WordCount:      doc.WordCount,
			Hash:           doc.Hash,
		},
		Sections:   doc.Sections,
		Report:     review.WithRedFlags(report, flags),
		AnalyzedAt: now(),
	}
}

// Failed returns the record of a document that could not be analyzed: zero
// score, FAILED verdict and the error as annotation.
func Failed(filename string, err error) schema.DocumentAnalysis {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return schema.DocumentAnalysis{
		Document: schema.DocumentSummary{
			ID:       uuid.NewString(),
			Filename: filename,
			Type:     schema.DocUnknown,
		},
		Report: schema.ComplianceReport{
			OverallScore:  0,
			Verdict:       schema.VerdictFailed,
			RuleResults:   []schema.RuleResult{},
			ViolatedRules: []string{},
			RedFlags:      []schema.RedFlag{},
		},
		Error:      msg,
		AnalyzedAt: now(),
	}
}

// NewSession starts an empty session checked against the catalog's
// required-document list.
func NewSession(cat *catalog.Catalog) schema.SessionAnalysis {
	required := append([]schema.DocumentType(nil), cat.RequiredDocuments...)
	return schema.SessionAnalysis{
		ID:                uuid.NewString(),
		CreatedAt:         now(),
		RequiredDocuments: required,
		Documents:         []schema.DocumentAnalysis{},
		Stats:             ComputeStats(nil, required),
	}
}

// Rollup returns a new session with record appended and statistics
// recomputed from the full record set. The input session is not modified.
func Rollup(session schema.SessionAnalysis, record schema.DocumentAnalysis) schema.SessionAnalysis {
	docs := make([]schema.DocumentAnalysis, 0, len(session.Documents)+1)
	docs = append(docs, session.Documents...)
	docs = append(docs, record)

	out := session
	out.RequiredDocuments = append([]schema.DocumentType(nil), session.RequiredDocuments...)
	out.Documents = docs
	out.Stats = ComputeStats(docs, out.RequiredDocuments)
	return out
}

// ComputeStats derives session statistics from scratch. Failed records count
// toward the average score at zero. Only successfully analyzed documents
// satisfy the required-document checklist, and missing types are reported in
// checklist order.
func ComputeStats(records []schema.DocumentAnalysis, required []schema.DocumentType) schema.SessionStats {
	st := schema.SessionStats{
		IssuesBySeverity: make(map[schema.Severity]int, 4),
		DocumentTypes:    make(map[schema.DocumentType]int),
		MissingDocuments: []schema.DocumentType{},
	}
	for _, s := range schema.AllSeverities() {
		st.IssuesBySeverity[s] = 0
	}

	var scoreSum, riskSum float64
	succeeded := 0
	for _, r := range records {
		st.DocumentsProcessed++
		scoreSum += r.Report.OverallScore
		if r.Failed() {
			st.DocumentsFailed++
			continue
		}
		succeeded++
		riskSum += r.Report.RiskScore
		st.DocumentTypes[r.Document.Type]++
		st.CriticalIssues += r.Report.CriticalIssuesCount
		st.TotalIssues += len(r.Report.RedFlags)
		for _, f := range r.Report.RedFlags {
			st.IssuesBySeverity[f.Severity]++
		}
	}
	if st.DocumentsProcessed > 0 {
		st.AverageScore = scoreSum / float64(st.DocumentsProcessed)
	}
	if succeeded > 0 {
		st.AverageRiskScore = riskSum / float64(succeeded)
	}

	for _, dt := range required {
		if st.DocumentTypes[dt] == 0 {
			st.MissingDocuments = append(st.MissingDocuments, dt)
		}
	}
	return st
}
