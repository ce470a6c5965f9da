package schema

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType is the closed set of ADGM filing types the engine understands.
type DocumentType string

const (
	DocArticlesOfAssociation   DocumentType = "Articles of Association"
	DocMemorandumOfAssociation DocumentType = "Memorandum of Association"
	DocUBODeclaration          DocumentType = "UBO Declaration Form"
	DocBoardResolution         DocumentType = "Board Resolution"
	DocIncorporationApp        DocumentType = "Incorporation Application"
	DocRegisterOfMembers       DocumentType = "Register of Members"
	DocRegisterOfDirectors     DocumentType = "Register of Directors"
	DocShareholderResolution   DocumentType = "Shareholder Resolution"
	DocUnknown                 DocumentType = "Unknown"
)

// AllDocumentTypes returns the known document types in declaration order.
// DocUnknown is not included.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocArticlesOfAssociation,
		DocMemorandumOfAssociation,
		DocUBODeclaration,
		DocBoardResolution,
		DocIncorporationApp,
		DocRegisterOfMembers,
		DocRegisterOfDirectors,
		DocShareholderResolution,
	}
}

// IsValidDocumentType reports whether t is a known type or DocUnknown.
func IsValidDocumentType(t DocumentType) bool {
	if t == DocUnknown {
		return true
	}
	for _, known := range AllDocumentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Importance is the legal-importance tier of a section.
type Importance string

const (
	ImportanceCritical      Importance = "Critical"
	ImportanceImportant     Importance = "Important"
	ImportanceStandard      Importance = "Standard"
	ImportanceInformational Importance = "Informational"
)

// IsValidImportance reports whether i is one of the four tiers.
func IsValidImportance(i Importance) bool {
	switch i {
	case ImportanceCritical, ImportanceImportant, ImportanceStandard, ImportanceInformational:
		return true
	}
	return false
}

// SectionStatus is the compliance status the scorer assigns to a section.
type SectionStatus string

const (
	StatusCompliant     SectionStatus = "Compliant"
	StatusNonCompliant  SectionStatus = "NonCompliant"
	StatusNotApplicable SectionStatus = "NotApplicable"
	StatusUnchecked     SectionStatus = "Unchecked"
)

// Severity levels for rules and red flags.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// AllSeverities returns severities from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// SeverityOrdinal returns the numeric ordering for a severity.
// Low(0) < Medium(1) < High(2) < Critical(3). Returns -1 for an unrecognised severity.
func SeverityOrdinal(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// SeverityWeight is the weight a red flag contributes to the risk score.
// Critical=3, High=2, Medium=1, Low=0.
func SeverityWeight(s Severity) int {
	if o := SeverityOrdinal(s); o > 0 {
		return o
	}
	return 0
}

// IsValidSeverity reports whether s is one of the four severities.
func IsValidSeverity(s Severity) bool {
	return SeverityOrdinal(s) >= 0
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range AllSeverities() {
		if strings.EqualFold(string(sev), s) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q: valid severities are critical, high, medium, low", s)
}

// RuleOutcome is the result of evaluating one catalog rule against a document.
type RuleOutcome string

const (
	OutcomeUnchecked     RuleOutcome = "Unchecked"
	OutcomeSatisfied     RuleOutcome = "Satisfied"
	OutcomeViolated      RuleOutcome = "Violated"
	OutcomeNotApplicable RuleOutcome = "NotApplicable"
)

// FlagCategory classifies a red flag by the detector that produced it.
type FlagCategory string

const (
	FlagJurisdictionMismatch FlagCategory = "jurisdiction_mismatch"
	FlagAmbiguousLanguage    FlagCategory = "ambiguous_language"
	FlagMissingSection       FlagCategory = "missing_section"
	FlagIncompleteOwnership  FlagCategory = "incomplete_ownership"
	FlagMissingSignature     FlagCategory = "missing_signature"
)

// DocumentLevel is the location of a red flag that is not tied to a section.
const DocumentLevel = -1

// Section is one ordered part of a Document.
type Section struct {
	Index      int           `json:"index"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Label      string        `json:"label"`
	Importance Importance    `json:"importance"`
	Status     SectionStatus `json:"status"`
}

// NewSection returns an unclassified section at the given position.
func NewSection(index int, body string) (Section, error) {
	if index < 0 {
		return Section{}, fmt.Errorf("section index %d must be >= 0", index)
	}
	return Section{
		Index:      index,
		Body:       body,
		Label:      LabelGeneral,
		Importance: ImportanceStandard,
		Status:     StatusUnchecked,
	}, nil
}

// Text returns the section's title and body as one string. The title is
// omitted when the body already starts with it.
func (s Section) Text() string {
	if s.Title != "" && !strings.Contains(s.Body, s.Title) {
		return s.Title + "\n" + s.Body
	}
	return s.Body
}

// LabelGeneral is the semantic label of a section that matched no signature.
const LabelGeneral = "General"

// Document is a parsed filing. It exclusively owns its Sections.
type Document struct {
	ID             string       `json:"id"`
	Filename       string       `json:"filename"`
	Type           DocumentType `json:"type"`
	TypeConfidence float64      `json:"type_confidence"`
	Raw            string       `json:"-"`
	Hash           string       `json:"hash"` // "sha256:<hex>"
	WordCount      int          `json:"word_count"`
	Sections       []Section    `json:"sections"`
}

// RuleResult is the evaluated state of one catalog rule.
type RuleResult struct {
	RuleID       string      `json:"rule_id"`
	Description  string      `json:"description"`
	Outcome      RuleOutcome `json:"outcome"`
	Severity     Severity    `json:"severity"`
	Remediation  string      `json:"remediation,omitempty"`
	SectionIndex int         `json:"section_index"`
}

// Suggestion is a concrete text replacement that would resolve a red flag.
type Suggestion struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// RedFlag is a pattern-detected compliance concern.
type RedFlag struct {
	Category    FlagCategory `json:"category"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	Location    int          `json:"location"` // section index or DocumentLevel
	Remediation string       `json:"remediation"`
	Suggestion  *Suggestion  `json:"suggestion,omitempty"`
}

// ComplianceReport holds the scored verdict for one document.
type ComplianceReport struct {
	OverallScore        float64      `json:"overall_score"`
	Verdict             Verdict      `json:"verdict"`
	RuleResults         []RuleResult `json:"rule_results"`
	ViolatedRules       []string     `json:"violated_rules"`
	CriticalIssuesCount int          `json:"critical_issues_count"`
	RedFlags            []RedFlag    `json:"red_flags"`
	RiskScore           float64      `json:"risk_score"`
}

// Verdict is the overall triage outcome for a document.
type Verdict string

const (
	VerdictCompliant    Verdict = "COMPLIANT"
	VerdictNeedsReview  Verdict = "NEEDS_REVIEW"
	VerdictNonCompliant Verdict = "NON_COMPLIANT"
	VerdictFailed       Verdict = "FAILED"
)

// VerdictOrdinal returns the numeric ordering for a verdict, used by --fail-on
// comparison. COMPLIANT(0) < NEEDS_REVIEW(1) < NON_COMPLIANT(2) < FAILED(3).
// Returns -1 for an unrecognised verdict.
func VerdictOrdinal(v Verdict) int {
	switch v {
	case VerdictCompliant:
		return 0
	case VerdictNeedsReview:
		return 1
	case VerdictNonCompliant:
		return 2
	case VerdictFailed:
		return 3
	default:
		return -1
	}
}

// DocumentSummary is the document metadata carried in an analysis record.
type DocumentSummary struct {
	ID             string       `json:"id"`
	Filename       string       `json:"filename"`
	Type           DocumentType `json:"type"`
	TypeConfidence float64      `json:"type_confidence"`
	SectionCount   int          `json:"section_count"`
	WordCount      int          `json:"word_count"`
	Hash           string       `json:"hash,omitempty"`
}

// DocumentAnalysis is the per-document analysis record.
type DocumentAnalysis struct {
	Document   DocumentSummary  `json:"document"`
	Sections   []Section        `json:"sections,omitempty"`
	Report     ComplianceReport `json:"report"`
	Error      string           `json:"error,omitempty"`
	AnalyzedAt time.Time        `json:"analyzed_at"`
}

// Failed reports whether the document could not be analyzed.
func (a DocumentAnalysis) Failed() bool { return a.Error != "" }

// SessionStats are the session-wide statistics recomputed on every rollup.
type SessionStats struct {
	DocumentsProcessed int                  `json:"documents_processed"`
	DocumentsFailed    int                  `json:"documents_failed"`
	AverageScore       float64              `json:"average_score"`
	AverageRiskScore   float64              `json:"average_risk_score"`
	TotalIssues        int                  `json:"total_issues"`
	CriticalIssues     int                  `json:"critical_issues"`
	IssuesBySeverity   map[Severity]int     `json:"issues_by_severity"`
	DocumentTypes      map[DocumentType]int `json:"document_types"`
	MissingDocuments   []DocumentType       `json:"missing_documents"`
}

// SessionAnalysis aggregates all documents processed within one session.
type SessionAnalysis struct {
	ID                string             `json:"id"`
	CreatedAt         time.Time          `json:"created_at"`
	RequiredDocuments []DocumentType     `json:"required_documents"`
	Documents         []DocumentAnalysis `json:"documents"`
	Stats             SessionStats       `json:"stats"`
}

// Chunk is one ranked context passage returned by a retrieval store.
type Chunk struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source"`
	Reference  string  `json:"reference,omitempty"`
}

// Answer is the assembled response to a free-text question.
type Answer struct {
	Question      string   `json:"question"`
	Text          string   `json:"text"`
	Confidence    float64  `json:"confidence"`
	References    []string `json:"references"`
	RelatedTopics []string `json:"related_topics"`
	FollowUps     []string `json:"follow_ups"`
	Sources       []Chunk  `json:"sources"`
	Fallback      bool     `json:"fallback"`
}
