package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/document"
	"github.com/dshills/filingcheck/internal/schema"
)

func makeDoc(t *testing.T, name string, typ schema.DocumentType, bodies ...string) *schema.Document {
	t.Helper()
	doc := &schema.Document{ID: "doc-" + name, Filename: name, Type: typ, TypeConfidence: 0.9}
	for i, b := range bodies {
		s, err := schema.NewSection(i, b)
		require.NoError(t, err)
		doc.Sections = append(doc.Sections, s)
	}
	return doc
}

func boardResolution(t *testing.T, name string) *schema.Document {
	return makeDoc(t, name, schema.DocBoardResolution,
		"Board Resolution dated 1 March 2024",
		"A quorum being present, IT WAS RESOLVED THAT the company open a bank account.",
		"Signed by the Chairman",
	)
}

func TestAnalyzeDocument_UBOMissingNationality(t *testing.T) {
	doc := makeDoc(t, "ubo.docx", schema.DocUBODeclaration,
		"UBO Declaration Form\nI hereby declare that the information below is complete.",
		"Beneficial Owner 1\nName: Jane Doe\nPercentage of ownership: 60%",
		"Signed by the declarant on 1 March 2024",
	)
	rec := AnalyzeDocument(catalog.MustDefault(), doc)

	require.Len(t, rec.Report.RedFlags, 1)
	assert.Equal(t, schema.FlagIncompleteOwnership, rec.Report.RedFlags[0].Category)
	assert.Equal(t, 1, rec.Report.RedFlags[0].Location)
	assert.Equal(t, schema.VerdictNonCompliant, rec.Report.Verdict)
	assert.Equal(t, 1.0, rec.Report.RiskScore)
	assert.Equal(t, "doc-ubo.docx", rec.Document.ID)
	assert.Equal(t, 3, rec.Document.SectionCount)
	assert.False(t, rec.Failed())

	assert.Equal(t, "Beneficial Ownership", rec.Sections[1].Label)
	assert.Equal(t, schema.LabelGeneral, doc.Sections[1].Label, "input document must not be modified")
}

func TestAnalyzeDocument_UBOPreambleMentionsBeneficialOwner(t *testing.T) {
	cat := catalog.MustDefault()
	doc, err := document.Parse(cat, "ubo.md", []byte("# UBO Declaration Form\n\n"+
		"I hereby declare that the beneficial owner information below is true and complete.\n\n"+
		"# Beneficial Owner 1\n\nName: Jane Doe\nPercentage of ownership: 60%\n\n"+
		"# Declaration\n\nSigned by the declarant on 1 March 2024\n"))
	require.NoError(t, err)
	require.Equal(t, schema.DocUBODeclaration, doc.Type)

	rec := AnalyzeDocument(cat, doc)
	var ownership []schema.RedFlag
	for _, f := range rec.Report.RedFlags {
		if f.Category == schema.FlagIncompleteOwnership {
			ownership = append(ownership, f)
		}
	}
	require.Len(t, ownership, 1, "flags: %+v", rec.Report.RedFlags)
	assert.Equal(t, schema.SeverityCritical, ownership[0].Severity)
	assert.Equal(t, 1, ownership[0].Location)
	assert.Contains(t, ownership[0].Description, "nationality")
}

func TestAnalyzeDocument_BoardResolutionCompliant(t *testing.T) {
	rec := AnalyzeDocument(catalog.MustDefault(), boardResolution(t, "br.txt"))
	assert.Equal(t, 1.0, rec.Report.OverallScore)
	assert.Empty(t, rec.Report.RedFlags)
	assert.Equal(t, schema.VerdictCompliant, rec.Report.Verdict)
}

func TestAggregate_AssignsID(t *testing.T) {
	doc := &schema.Document{Filename: "x.txt", Type: schema.DocUnknown}
	rec := Aggregate(doc, schema.ComplianceReport{OverallScore: 1}, nil)
	assert.NotEmpty(t, rec.Document.ID)
	assert.NotNil(t, rec.Report.RedFlags)
	assert.Equal(t, schema.VerdictCompliant, rec.Report.Verdict)
}

func TestFailed(t *testing.T) {
	rec := Failed("broken.docx", errors.New("corrupt archive"))
	assert.True(t, rec.Failed())
	assert.Equal(t, "corrupt archive", rec.Error)
	assert.Zero(t, rec.Report.OverallScore)
	assert.Equal(t, schema.VerdictFailed, rec.Report.Verdict)
	assert.Equal(t, "broken.docx", rec.Document.Filename)
}

func TestRollup_DoesNotMutateInput(t *testing.T) {
	cat := catalog.MustDefault()
	s0 := NewSession(cat)
	s1 := Rollup(s0, AnalyzeDocument(cat, boardResolution(t, "a.txt")))

	assert.Empty(t, s0.Documents)
	assert.Zero(t, s0.Stats.DocumentsProcessed)
	assert.Len(t, s1.Documents, 1)
	assert.Equal(t, s0.ID, s1.ID)
}

func TestRollup_IdempotentUnderRecomputation(t *testing.T) {
	cat := catalog.MustDefault()
	records := []schema.DocumentAnalysis{
		AnalyzeDocument(cat, boardResolution(t, "a.txt")),
		AnalyzeDocument(cat, makeDoc(t, "aoa.txt", schema.DocArticlesOfAssociation,
			"Share Capital\nThe directors may issue shares.",
			"Governing Law\nDisputes go to the Dubai Courts.")),
		Failed("bad.docx", errors.New("unreadable")),
	}

	build := func() schema.SessionAnalysis {
		s := NewSession(cat)
		for _, r := range records {
			s = Rollup(s, r)
		}
		return s
	}
	first, second := build(), build()
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.Stats, ComputeStats(first.Documents, first.RequiredDocuments))
	assert.Equal(t, first.Stats, ComputeStats(first.Documents, first.RequiredDocuments))
	assert.Equal(t, 3, first.Stats.DocumentsProcessed)
}

func TestRollup_BoardResolutionsOnly_MissingChecklist(t *testing.T) {
	cat := catalog.MustDefault()
	s := NewSession(cat)
	for i := 0; i < 3; i++ {
		s = Rollup(s, AnalyzeDocument(cat, boardResolution(t, fmt.Sprintf("br%d.txt", i))))
	}
	assert.Equal(t, []schema.DocumentType{
		schema.DocArticlesOfAssociation,
		schema.DocMemorandumOfAssociation,
		schema.DocUBODeclaration,
	}, s.Stats.MissingDocuments)
	assert.Equal(t, 3, s.Stats.DocumentTypes[schema.DocBoardResolution])
}

func TestComputeStats_FailedDocumentsCountAtZero(t *testing.T) {
	cat := catalog.MustDefault()
	ok := AnalyzeDocument(cat, boardResolution(t, "a.txt"))
	bad := Failed("articles.docx", errors.New("corrupt"))
	bad.Document.Type = schema.DocArticlesOfAssociation

	st := ComputeStats([]schema.DocumentAnalysis{ok, bad}, cat.RequiredDocuments)
	assert.Equal(t, 2, st.DocumentsProcessed)
	assert.Equal(t, 1, st.DocumentsFailed)
	assert.InDelta(t, 0.5, st.AverageScore, 1e-9)
	assert.Contains(t, st.MissingDocuments, schema.DocArticlesOfAssociation, "failed documents do not satisfy the checklist")
}

func TestComputeStats_Empty(t *testing.T) {
	st := ComputeStats(nil, catalog.MustDefault().RequiredDocuments)
	assert.Zero(t, st.AverageScore)
	assert.Len(t, st.MissingDocuments, 3)
	assert.Equal(t, 0, st.IssuesBySeverity[schema.SeverityCritical])
}

func TestComputeStats_IssuesBySeverity(t *testing.T) {
	rec := schema.DocumentAnalysis{
		Document: schema.DocumentSummary{Type: schema.DocUBODeclaration},
		Report: schema.ComplianceReport{
			OverallScore:        0.5,
			CriticalIssuesCount: 1,
			RiskScore:           0.75,
			RedFlags: []schema.RedFlag{
				{Severity: schema.SeverityCritical},
				{Severity: schema.SeverityMedium},
			},
		},
	}
	st := ComputeStats([]schema.DocumentAnalysis{rec}, nil)
	assert.Equal(t, 2, st.TotalIssues)
	assert.Equal(t, 1, st.CriticalIssues)
	assert.Equal(t, 1, st.IssuesBySeverity[schema.SeverityCritical])
	assert.Equal(t, 1, st.IssuesBySeverity[schema.SeverityMedium])
	assert.InDelta(t, 0.75, st.AverageRiskScore, 1e-9)
}

func TestRecommend(t *testing.T) {
	cat := catalog.MustDefault()
	s := Rollup(NewSession(cat), Failed("x.docx", errors.New("bad")))

	rec := Recommend(s)
	require.Len(t, rec.Priority, 3)
	assert.Contains(t, rec.Priority[0], "Improve overall compliance")
	assert.Contains(t, rec.Priority[1], "Articles of Association, Memorandum of Association, UBO Declaration Form")
	assert.Contains(t, rec.Priority[2], "Resubmit 1")
	assert.NotEmpty(t, rec.General)
}

func TestRecommend_CleanSession(t *testing.T) {
	assert.Empty(t, Recommend(schema.SessionAnalysis{}).Priority)
}

type countingObserver struct {
	mu   sync.Mutex
	seen []string
}

func (o *countingObserver) Observe(r schema.DocumentAnalysis) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, r.Document.Filename)
}

func TestEngine_Run(t *testing.T) {
	cat := catalog.MustDefault()
	var jobs []Job
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("doc%02d.txt", i)
		jobs = append(jobs, Job{Name: name, Parse: func(context.Context) (*schema.Document, error) {
			if i == 5 {
				return nil, errors.New("corrupt file")
			}
			return boardResolution(t, name), nil
		}})
	}

	obs := &countingObserver{}
	var snapshots int
	e := &Engine{Catalog: cat, Workers: 3, Observer: obs, Progress: func(s schema.SessionAnalysis) {
		snapshots++
		assert.Equal(t, len(s.Documents), s.Stats.DocumentsProcessed)
	}}

	s, err := e.Run(context.Background(), NewSession(cat), jobs)
	require.NoError(t, err)
	require.Len(t, s.Documents, 12)
	for i, d := range s.Documents {
		assert.Equal(t, fmt.Sprintf("doc%02d.txt", i), d.Document.Filename)
	}
	assert.True(t, s.Documents[5].Failed())
	assert.Equal(t, 1, s.Stats.DocumentsFailed)
	assert.Len(t, obs.seen, 12)
	assert.Equal(t, 12, snapshots)
	assert.Equal(t, s.Stats, ComputeStats(s.Documents, s.RequiredDocuments))
}

func TestEngine_AppendsToExistingSession(t *testing.T) {
	cat := catalog.MustDefault()
	s := Rollup(NewSession(cat), Failed("first.docx", errors.New("bad")))

	e := &Engine{Catalog: cat, Workers: 2}
	out, err := e.Run(context.Background(), s, []Job{
		{Name: "b.txt", Parse: func(context.Context) (*schema.Document, error) { return boardResolution(t, "b.txt"), nil }},
	})
	require.NoError(t, err)
	require.Len(t, out.Documents, 2)
	assert.Equal(t, "first.docx", out.Documents[0].Document.Filename)
	assert.Equal(t, "b.txt", out.Documents[1].Document.Filename)
}

func TestEngine_CancelledContext(t *testing.T) {
	cat := catalog.MustDefault()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Engine{Catalog: cat, Workers: 1}
	s, err := e.Run(ctx, NewSession(cat), []Job{
		{Name: "a.txt", Parse: func(context.Context) (*schema.Document, error) { return boardResolution(t, "a.txt"), nil }},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Documents)
}
