package catalog

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filingcheck/internal/schema"
)

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "ADGM Courts", c.CourtsPhrase)
	assert.NotEmpty(t, c.Rules)
	assert.NotEmpty(t, c.Signatures)
	assert.NotEmpty(t, c.Competing)
	assert.Len(t, c.OwnerFields, 3)
	assert.Equal(t, []schema.DocumentType{
		schema.DocArticlesOfAssociation,
		schema.DocMemorandumOfAssociation,
		schema.DocUBODeclaration,
	}, c.RequiredDocuments)
}

func TestDefault_IsShared(t *testing.T) {
	a := MustDefault()
	b := MustDefault()
	assert.Same(t, a, b, "default catalog should be compiled once")
}

func TestDefault_EveryKnownTypeHasKeywords(t *testing.T) {
	c := MustDefault()
	for _, dt := range schema.AllDocumentTypes() {
		assert.NotEmpty(t, c.TypeKeywords[dt], "no type keywords for %s", dt)
	}
}

func TestDefault_CourtsPattern(t *testing.T) {
	c := MustDefault()
	assert.True(t, c.Courts.MatchString("subject to the exclusive jurisdiction of the ADGM Courts"))
	assert.True(t, c.Courts.MatchString("the Courts of Abu Dhabi Global Market"))
	assert.False(t, c.Courts.MatchString("the Dubai Courts shall have jurisdiction"))
}

func TestDefault_HedgesAreWordBounded(t *testing.T) {
	c := MustDefault()
	var may Hedge
	for _, h := range c.Hedges {
		if h.Phrase == "may" {
			may = h
		}
	}
	require.NotNil(t, may.Pattern)
	assert.True(t, may.Pattern.MatchString("The directors may issue shares"))
	assert.False(t, may.Pattern.MatchString("The company shall dismay nobody"))
}

func TestNamesCourts(t *testing.T) {
	cat := MustDefault()
	tests := []struct {
		text string
		want bool
	}{
		{"Disputes go to the ADGM Courts.", true},
		{"Disputes go to the DIFC Courts and not the ADGM Courts.", false},
		{"Disputes go to courts other than the ADGM Courts.", false},
		{"The ADGM Courts, and not the Dubai Courts, have jurisdiction.", true},
		{"Excluding the ADGM Courts, then by the ADGM Courts on appeal.", true},
		{"No court is named.", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cat.NamesCourts(tt.text), tt.text)
	}
}

func TestLoad_InvalidExclusionPattern(t *testing.T) {
	const y = `
regulator: {name: ADGM, courts_phrase: ADGM Courts, courts_pattern: 'ADGM Courts', exclusion_pattern: 'not('}
ubo: {entry_pattern: 'owner'}
`
	_, err := Load([]byte(y))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regulator.exclusion_pattern")
}

func TestRulesFor(t *testing.T) {
	c := MustDefault()

	ubo := c.RulesFor(schema.DocUBODeclaration)
	require.NotEmpty(t, ubo)
	for _, r := range ubo {
		assert.True(t, r.AppliesTo(schema.DocUBODeclaration))
	}

	assert.Empty(t, c.RulesFor(schema.DocUnknown))
}

func TestLoad_InvalidPatternIsFatal(t *testing.T) {
	bad := strings.Replace(string(defaultCatalog), `pattern: '(?i)\bquorum\b'`, `pattern: '(?i)\bquorum('`, 1)
	require.NotEqual(t, string(defaultCatalog), bad, "fixture replacement did not apply")

	_, err := Load([]byte(bad))
	require.Error(t, err)
	assert.True(t, IsRuleEvaluationError(err), "expected *RuleEvaluationError, got %T", err)
	assert.Contains(t, err.Error(), "RES-002")
}

func TestLoad_InvalidSeverity(t *testing.T) {
	const y = `
regulator: {name: ADGM, courts_phrase: ADGM Courts, courts_pattern: 'ADGM Courts'}
ubo: {entry_pattern: 'owner'}
rules:
  - id: X-1
    document_types: [Board Resolution]
    pattern: 'resolved'
    severity: Blocker
`
	_, err := Load([]byte(y))
	require.Error(t, err)
	assert.True(t, IsRuleEvaluationError(err))
	assert.Contains(t, err.Error(), "invalid severity")
}

func TestLoad_DuplicateRuleID(t *testing.T) {
	const y = `
regulator: {name: ADGM, courts_phrase: ADGM Courts, courts_pattern: 'ADGM Courts'}
ubo: {entry_pattern: 'owner'}
rules:
  - {id: X-1, document_types: [Board Resolution], pattern: 'a', severity: High}
  - {id: X-1, document_types: [Board Resolution], pattern: 'b', severity: High}
`
	_, err := Load([]byte(y))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestLoad_UnknownDocumentType(t *testing.T) {
	const y = `
regulator: {name: ADGM, courts_phrase: ADGM Courts, courts_pattern: 'ADGM Courts'}
ubo: {entry_pattern: 'owner'}
rules:
  - {id: X-1, document_types: [Trust Deed], pattern: 'a', severity: High}
`
	_, err := Load([]byte(y))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document type")
}

func TestLoad_SectionWithoutSignature(t *testing.T) {
	const y = `
regulator: {name: ADGM, courts_phrase: ADGM Courts, courts_pattern: 'ADGM Courts'}
ubo: {entry_pattern: 'owner'}
rules:
  - {id: X-1, document_types: [Board Resolution], pattern: 'a', section: Nowhere, severity: High}
`
	_, err := Load([]byte(y))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `section "Nowhere" has no signature`)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load([]byte("rules: [unterminated"))
	require.Error(t, err)
	assert.True(t, IsRuleEvaluationError(err))
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("/nonexistent/catalog.yaml")
	assert.Error(t, err)
}

func TestFormatForPrompt(t *testing.T) {
	c := MustDefault()

	out := c.FormatForPrompt(schema.DocArticlesOfAssociation)
	assert.Contains(t, out, "ADGM Courts")
	assert.Contains(t, out, "JUR-001")
	assert.Contains(t, out, "Share Capital")

	general := c.FormatForPrompt("")
	assert.Contains(t, general, "UBO Declaration Form")
	assert.NotContains(t, general, "JUR-001")
}

func TestRule_MarshalJSON(t *testing.T) {
	rules := MustDefault().RulesFor(schema.DocArticlesOfAssociation)
	require.NotEmpty(t, rules)

	data, err := json.Marshal(rules[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rules[0].ID, decoded["id"])
	assert.Equal(t, rules[0].Pattern.String(), decoded["pattern"])
	assert.Equal(t, string(rules[0].Severity), decoded["severity"])
}
