package review

import (
	"strings"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/schema"
)

// Score evaluates the catalog's rules against classified sections.
//
// Each rule moves from Unchecked to NotApplicable (document type mismatch),
// Satisfied or Violated. A rule's pattern is matched against the concatenated
// text of all sections; a rule that names a section label additionally needs a
// section carrying that label. The returned sections are copies with their
// compliance status set; the input slice is not modified.
//
// The returned report has no red flags; callers attach them with WithRedFlags.
func Score(cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) (schema.ComplianceReport, []schema.Section) {
	full := joinSections(sections)

	results := make([]schema.RuleResult, 0, len(cat.Rules))
	for _, rule := range cat.Rules {
		results = append(results, evaluate(rule, docType, full, sections))
	}

	report := schema.ComplianceReport{
		RuleResults:   results,
		ViolatedRules: []string{},
		RedFlags:      []schema.RedFlag{},
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Outcome != schema.OutcomeViolated || seen[r.RuleID] {
			continue
		}
		seen[r.RuleID] = true
		report.ViolatedRules = append(report.ViolatedRules, r.RuleID)
		if r.Severity == schema.SeverityCritical {
			report.CriticalIssuesCount++
		}
	}
	report.OverallScore = ScoreResults(results)
	report.Verdict = Verdict(report)

	return report, sectionStatuses(cat, results, sections)
}

// ScoreResults computes satisfied / (satisfied + violated). With no applicable
// rules there is nothing to fail and the score is 1.0.
func ScoreResults(results []schema.RuleResult) float64 {
	var satisfied, violated int
	for _, r := range results {
		switch r.Outcome {
		case schema.OutcomeSatisfied:
			satisfied++
		case schema.OutcomeViolated:
			violated++
		}
	}
	if satisfied+violated == 0 {
		return 1.0
	}
	return float64(satisfied) / float64(satisfied+violated)
}

// WithRedFlags attaches red flags to a report and recomputes the risk score
// and verdict.
func WithRedFlags(report schema.ComplianceReport, flags []schema.RedFlag) schema.ComplianceReport {
	if flags == nil {
		flags = []schema.RedFlag{}
	}
	report.RedFlags = flags
	report.RiskScore = RiskScore(flags)
	report.Verdict = Verdict(report)
	return report
}

// RiskScore is the severity-weighted risk of a set of red flags, normalised
// to [0,1]: the sum of weights (Critical=3, High=2, Medium=1, Low=0) divided
// by the maximum weight times the number of flags. No flags means no risk.
func RiskScore(flags []schema.RedFlag) float64 {
	if len(flags) == 0 {
		return 0
	}
	total := 0
	for _, f := range flags {
		total += schema.SeverityWeight(f.Severity)
	}
	return float64(total) / float64(3*len(flags))
}

// Verdict triages a report: NON_COMPLIANT on any Critical violation or
// Critical red flag, NEEDS_REVIEW on any other violation or flag, otherwise
// COMPLIANT.
func Verdict(report schema.ComplianceReport) schema.Verdict {
	if report.CriticalIssuesCount > 0 {
		return schema.VerdictNonCompliant
	}
	for _, f := range report.RedFlags {
		if f.Severity == schema.SeverityCritical {
			return schema.VerdictNonCompliant
		}
	}
	if len(report.ViolatedRules) > 0 || len(report.RedFlags) > 0 {
		return schema.VerdictNeedsReview
	}
	return schema.VerdictCompliant
}

// Counts returns the number of red flags at each severity.
func Counts(flags []schema.RedFlag) map[schema.Severity]int {
	out := make(map[schema.Severity]int, 4)
	for _, s := range schema.AllSeverities() {
		out[s] = 0
	}
	for _, f := range flags {
		out[f.Severity]++
	}
	return out
}

// FilterBySeverity returns only flags at or above the given threshold severity.
func FilterBySeverity(flags []schema.RedFlag, threshold schema.Severity) []schema.RedFlag {
	if threshold == schema.SeverityLow {
		return flags
	}
	out := make([]schema.RedFlag, 0, len(flags))
	for _, f := range flags {
		if schema.SeverityOrdinal(f.Severity) >= schema.SeverityOrdinal(threshold) {
			out = append(out, f)
		}
	}
	return out
}

func evaluate(rule catalog.Rule, docType schema.DocumentType, full string, sections []schema.Section) schema.RuleResult {
	res := schema.RuleResult{
		RuleID:       rule.ID,
		Description:  rule.Description,
		Outcome:      schema.OutcomeUnchecked,
		Severity:     rule.Severity,
		SectionIndex: schema.DocumentLevel,
	}
	if !rule.AppliesTo(docType) {
		res.Outcome = schema.OutcomeNotApplicable
		return res
	}

	matched := rule.Pattern.MatchString(full)
	if rule.Section != "" {
		idx := labelledSection(sections, rule.Section)
		res.SectionIndex = idx
		matched = matched && idx != schema.DocumentLevel
	} else if matched {
		for _, s := range sections {
			if rule.Pattern.MatchString(s.Text()) {
				res.SectionIndex = s.Index
				break
			}
		}
	}

	if matched {
		res.Outcome = schema.OutcomeSatisfied
	} else {
		res.Outcome = schema.OutcomeViolated
		res.Remediation = rule.Remediation
	}
	return res
}

// sectionStatuses marks sections targeted by violated rules NonCompliant,
// sections targeted only by satisfied rules Compliant, and untargeted
// sections NotApplicable. When no rule applies the sections stay Unchecked.
func sectionStatuses(cat *catalog.Catalog, results []schema.RuleResult, sections []schema.Section) []schema.Section {
	out := make([]schema.Section, len(sections))
	copy(out, sections)

	applicable := false
	violatedLabels := make(map[string]bool)
	satisfiedLabels := make(map[string]bool)
	violatedIdx := make(map[int]bool)
	satisfiedIdx := make(map[int]bool)
	for i, r := range results {
		if r.Outcome == schema.OutcomeNotApplicable || r.Outcome == schema.OutcomeUnchecked {
			continue
		}
		applicable = true
		label := cat.Rules[i].Section
		switch r.Outcome {
		case schema.OutcomeViolated:
			if label != "" {
				violatedLabels[label] = true
			}
			if r.SectionIndex != schema.DocumentLevel {
				violatedIdx[r.SectionIndex] = true
			}
		case schema.OutcomeSatisfied:
			if label != "" {
				satisfiedLabels[label] = true
			}
			if r.SectionIndex != schema.DocumentLevel {
				satisfiedIdx[r.SectionIndex] = true
			}
		}
	}
	if !applicable {
		return out
	}

	for i := range out {
		s := &out[i]
		switch {
		case violatedLabels[s.Label] || violatedIdx[s.Index]:
			s.Status = schema.StatusNonCompliant
		case satisfiedLabels[s.Label] || satisfiedIdx[s.Index]:
			s.Status = schema.StatusCompliant
		default:
			s.Status = schema.StatusNotApplicable
		}
	}
	return out
}

func labelledSection(sections []schema.Section, label string) int {
	for _, s := range sections {
		if s.Label == label {
			return s.Index
		}
	}
	return schema.DocumentLevel
}

func joinSections(sections []schema.Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.Text())
	}
	return strings.Join(parts, "\n\n")
}
