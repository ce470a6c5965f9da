// Package catalog loads the static ADGM rule catalog: required clauses per
// document type and the pattern tables used by the classifier and the red-flag
// detectors. A loaded Catalog is read-only and safe for concurrent use.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/filingcheck/internal/schema"
)

//go:embed adgm.yaml
var defaultCatalog []byte

// RuleEvaluationError reports a malformed catalog entry. It is fatal at load
// time: a broken entry would silently under-report compliance.
type RuleEvaluationError struct {
	Entry string // e.g. "rules[3]" or "signatures[Jurisdiction]"
	Err   error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("catalog %s: %s", e.Entry, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// IsRuleEvaluationError reports whether err is a catalog integrity error.
func IsRuleEvaluationError(err error) bool {
	var re *RuleEvaluationError
	return errors.As(err, &re)
}

// file mirrors the YAML layout.
type file struct {
	Version   string `yaml:"version"`
	Regulator struct {
		Name          string `yaml:"name"`
		CourtsPhrase  string `yaml:"courts_phrase"`
		CourtsPattern string `yaml:"courts_pattern"`
		// ExclusionPattern matches the text just before a courts mention
		// that excludes them, such as "and not the".
		ExclusionPattern string `yaml:"exclusion_pattern"`
	} `yaml:"regulator"`
	Competing []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"competing_jurisdictions"`
	Signatures []struct {
		Label      string   `yaml:"label"`
		Importance string   `yaml:"importance"`
		Phrases    []string `yaml:"phrases"`
	} `yaml:"signatures"`
	RequiredSections  map[string][]string `yaml:"required_sections"`
	RequiredDocuments []string            `yaml:"required_documents"`
	HedgingPhrases    []string            `yaml:"hedging_phrases"`
	SignatureMarkers  []string            `yaml:"signature_markers"`
	UBO               struct {
		SectionLabel string `yaml:"section_label"`
		EntryPattern string `yaml:"entry_pattern"`
		Fields       []struct {
			Name    string `yaml:"name"`
			Pattern string `yaml:"pattern"`
		} `yaml:"fields"`
	} `yaml:"ubo"`
	TypeKeywords map[string][]string `yaml:"type_keywords"`
	Rules        []struct {
		ID            string   `yaml:"id"`
		Description   string   `yaml:"description"`
		DocumentTypes []string `yaml:"document_types"`
		Pattern       string   `yaml:"pattern"`
		Section       string   `yaml:"section"`
		Severity      string   `yaml:"severity"`
		Remediation   string   `yaml:"remediation"`
	} `yaml:"rules"`
}

// Rule is one required-clause check.
type Rule struct {
	ID            string
	Description   string
	DocumentTypes []schema.DocumentType
	Pattern       *regexp.Regexp
	Section       string // required section label; empty when any section may satisfy it
	Severity      schema.Severity
	Remediation   string
}

// AppliesTo reports whether the rule targets documents of type t.
func (r Rule) AppliesTo(t schema.DocumentType) bool {
	for _, dt := range r.DocumentTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the rule with its pattern as source text.
func (r Rule) MarshalJSON() ([]byte, error) {
	pattern := ""
	if r.Pattern != nil {
		pattern = r.Pattern.String()
	}
	return json.Marshal(struct {
		ID            string                `json:"id"`
		Description   string                `json:"description"`
		DocumentTypes []schema.DocumentType `json:"document_types"`
		Pattern       string                `json:"pattern"`
		Section       string                `json:"section,omitempty"`
		Severity      schema.Severity       `json:"severity"`
		Remediation   string                `json:"remediation"`
	}{r.ID, r.Description, r.DocumentTypes, pattern, r.Section, r.Severity, r.Remediation})
}

// Signature is a classifier entry: a semantic label recognised by its phrases.
type Signature struct {
	Label      string
	Importance schema.Importance
	Phrases    []string // lower-cased
}

// Jurisdiction is a competing court system that must not replace the regulator's courts.
type Jurisdiction struct {
	Name    string
	Pattern *regexp.Regexp
}

// Hedge is an ambiguous phrase and its word-boundary matcher.
type Hedge struct {
	Phrase  string
	Pattern *regexp.Regexp
}

// OwnerField is a required beneficial-owner field.
type OwnerField struct {
	Name    string
	Pattern *regexp.Regexp
}

// Catalog is the compiled, immutable rule catalog.
type Catalog struct {
	Version           string
	Regulator         string
	CourtsPhrase      string
	Courts            *regexp.Regexp
	CourtsExclusion   *regexp.Regexp // nil when the catalog sets none
	Competing         []Jurisdiction
	Signatures        []Signature
	RequiredSections  map[schema.DocumentType][]string
	RequiredDocuments []schema.DocumentType
	Hedges            []Hedge
	SignatureMarkers  []*regexp.Regexp
	OwnerSectionLabel string
	OwnerEntry        *regexp.Regexp
	OwnerFields       []OwnerField
	TypeKeywords      map[schema.DocumentType][]string
	Rules             []Rule
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded ADGM catalog, compiled once per process.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Load(defaultCatalog)
	})
	return defaultCat, defaultErr
}

// MustDefault returns the embedded catalog, panicking if it is malformed.
// Use in tests and for known-good configurations.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads and compiles a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Load(data)
}

// Load compiles a catalog from YAML. Every pattern is compiled and every
// cross-reference checked eagerly; the first problem is returned as a
// *RuleEvaluationError.
func Load(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &RuleEvaluationError{Entry: "document", Err: fmt.Errorf("parsing YAML: %w", err)}
	}

	c := &Catalog{
		Version:           f.Version,
		Regulator:         f.Regulator.Name,
		CourtsPhrase:      f.Regulator.CourtsPhrase,
		RequiredSections:  make(map[schema.DocumentType][]string),
		TypeKeywords:      make(map[schema.DocumentType][]string),
		OwnerSectionLabel: f.UBO.SectionLabel,
	}

	var err error
	if c.CourtsPhrase == "" {
		return nil, &RuleEvaluationError{Entry: "regulator", Err: errors.New("courts_phrase is required")}
	}
	if c.Courts, err = compile("regulator.courts_pattern", f.Regulator.CourtsPattern); err != nil {
		return nil, err
	}
	if f.Regulator.ExclusionPattern != "" {
		if c.CourtsExclusion, err = compile("regulator.exclusion_pattern", f.Regulator.ExclusionPattern); err != nil {
			return nil, err
		}
	}

	for i, j := range f.Competing {
		entry := fmt.Sprintf("competing_jurisdictions[%d]", i)
		re, err := compile(entry, j.Pattern)
		if err != nil {
			return nil, err
		}
		if j.Name == "" {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("name is required")}
		}
		c.Competing = append(c.Competing, Jurisdiction{Name: j.Name, Pattern: re})
	}

	labels := map[string]bool{schema.LabelGeneral: true}
	for i, s := range f.Signatures {
		entry := fmt.Sprintf("signatures[%d]", i)
		if s.Label == "" {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("label is required")}
		}
		if labels[s.Label] {
			return nil, &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("duplicate label %q", s.Label)}
		}
		imp := schema.Importance(s.Importance)
		if !schema.IsValidImportance(imp) {
			return nil, &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("invalid importance %q", s.Importance)}
		}
		if len(s.Phrases) == 0 {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("at least one phrase is required")}
		}
		phrases := make([]string, 0, len(s.Phrases))
		for _, p := range s.Phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("empty phrase")}
			}
			phrases = append(phrases, p)
		}
		labels[s.Label] = true
		c.Signatures = append(c.Signatures, Signature{Label: s.Label, Importance: imp, Phrases: phrases})
	}

	for name, secs := range f.RequiredSections {
		dt, err := docType("required_sections", name)
		if err != nil {
			return nil, err
		}
		for _, label := range secs {
			if !labels[label] {
				return nil, &RuleEvaluationError{Entry: "required_sections[" + name + "]", Err: fmt.Errorf("section %q has no signature", label)}
			}
		}
		c.RequiredSections[dt] = append([]string(nil), secs...)
	}

	for _, name := range f.RequiredDocuments {
		dt, err := docType("required_documents", name)
		if err != nil {
			return nil, err
		}
		c.RequiredDocuments = append(c.RequiredDocuments, dt)
	}

	for i, phrase := range f.HedgingPhrases {
		entry := fmt.Sprintf("hedging_phrases[%d]", i)
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("empty phrase")}
		}
		re, err := compile(entry, `(?i)\b`+regexp.QuoteMeta(phrase)+`\b`)
		if err != nil {
			return nil, err
		}
		c.Hedges = append(c.Hedges, Hedge{Phrase: phrase, Pattern: re})
	}

	for i, p := range f.SignatureMarkers {
		re, err := compile(fmt.Sprintf("signature_markers[%d]", i), p)
		if err != nil {
			return nil, err
		}
		c.SignatureMarkers = append(c.SignatureMarkers, re)
	}

	if c.OwnerSectionLabel != "" && !labels[c.OwnerSectionLabel] {
		return nil, &RuleEvaluationError{Entry: "ubo.section_label", Err: fmt.Errorf("section %q has no signature", c.OwnerSectionLabel)}
	}
	if c.OwnerEntry, err = compile("ubo.entry_pattern", f.UBO.EntryPattern); err != nil {
		return nil, err
	}
	for i, fld := range f.UBO.Fields {
		entry := fmt.Sprintf("ubo.fields[%d]", i)
		if fld.Name == "" {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("name is required")}
		}
		re, err := compile(entry, fld.Pattern)
		if err != nil {
			return nil, err
		}
		c.OwnerFields = append(c.OwnerFields, OwnerField{Name: fld.Name, Pattern: re})
	}

	for name, kws := range f.TypeKeywords {
		dt, err := docType("type_keywords", name)
		if err != nil {
			return nil, err
		}
		lower := make([]string, 0, len(kws))
		for _, kw := range kws {
			lower = append(lower, strings.ToLower(kw))
		}
		c.TypeKeywords[dt] = lower
	}

	seen := make(map[string]bool)
	for i, r := range f.Rules {
		entry := fmt.Sprintf("rules[%d]", i)
		if r.ID == "" {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("id is required")}
		}
		entry = "rules[" + r.ID + "]"
		if seen[r.ID] {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("duplicate rule id")}
		}
		seen[r.ID] = true

		re, err := compile(entry, r.Pattern)
		if err != nil {
			return nil, err
		}
		sev := schema.Severity(r.Severity)
		if !schema.IsValidSeverity(sev) {
			return nil, &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("invalid severity %q", r.Severity)}
		}
		if len(r.DocumentTypes) == 0 {
			return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("at least one document type is required")}
		}
		types := make([]schema.DocumentType, 0, len(r.DocumentTypes))
		for _, name := range r.DocumentTypes {
			dt, err := docType(entry, name)
			if err != nil {
				return nil, err
			}
			types = append(types, dt)
		}
		if r.Section != "" && !labels[r.Section] {
			return nil, &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("section %q has no signature", r.Section)}
		}
		c.Rules = append(c.Rules, Rule{
			ID:            r.ID,
			Description:   r.Description,
			DocumentTypes: types,
			Pattern:       re,
			Section:       r.Section,
			Severity:      sev,
			Remediation:   r.Remediation,
		})
	}

	return c, nil
}

// NamesCourts reports whether text refers to the regulator's courts other than
// to exclude them.
func (c *Catalog) NamesCourts(text string) bool {
	for _, loc := range c.Courts.FindAllStringIndex(text, -1) {
		if c.CourtsExclusion == nil || !c.CourtsExclusion.MatchString(text[:loc[0]]) {
			return true
		}
	}
	return false
}

// RulesFor returns the rules applicable to documents of type t, in catalog order.
func (c *Catalog) RulesFor(t schema.DocumentType) []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if r.AppliesTo(t) {
			out = append(out, r)
		}
	}
	return out
}

// Signature returns the signature with the given label.
func (c *Catalog) Signature(label string) (Signature, bool) {
	for _, s := range c.Signatures {
		if s.Label == label {
			return s, true
		}
	}
	return Signature{}, false
}

// FormatForPrompt returns the catalog's requirements for a document type as a
// plain-text checklist suitable for injection into an LLM system prompt.
// An empty docType lists the session-level checklist only.
func (c *Catalog) FormatForPrompt(docType schema.DocumentType) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Regulator: %s (disputes must be referred to the %s)\n", c.Regulator, c.CourtsPhrase))

	if len(c.RequiredDocuments) > 0 {
		sb.WriteString("\nRequired incorporation documents:\n")
		for _, d := range c.RequiredDocuments {
			sb.WriteString(fmt.Sprintf("- %s\n", d))
		}
	}

	if docType == "" {
		return sb.String()
	}

	if secs := c.RequiredSections[docType]; len(secs) > 0 {
		sb.WriteString(fmt.Sprintf("\nRequired sections for %s:\n", docType))
		for _, s := range secs {
			sb.WriteString(fmt.Sprintf("- %s\n", s))
		}
	}

	if rules := c.RulesFor(docType); len(rules) > 0 {
		sb.WriteString(fmt.Sprintf("\nRules for %s:\n", docType))
		for _, r := range rules {
			sb.WriteString(fmt.Sprintf("- %s [%s]: %s\n", r.ID, r.Severity, r.Description))
		}
	}
	return sb.String()
}

func compile(entry, pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, &RuleEvaluationError{Entry: entry, Err: errors.New("pattern is required")}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("invalid pattern: %w", err)}
	}
	return re, nil
}

func docType(entry, name string) (schema.DocumentType, error) {
	dt := schema.DocumentType(name)
	if dt == schema.DocUnknown || !schema.IsValidDocumentType(dt) {
		return "", &RuleEvaluationError{Entry: entry, Err: fmt.Errorf("unknown document type %q", name)}
	}
	return dt, nil
}
