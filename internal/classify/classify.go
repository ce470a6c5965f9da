// Package classify assigns semantic labels and importance tiers to document
// sections and detects the type of a filing from its text.
package classify

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/schema"
)

// maxTitleRunes bounds the length of a derived section title.
const maxTitleRunes = 80

// Classification is the classifier's verdict for one section.
type Classification struct {
	Title      string
	Importance schema.Importance
	Label      string
}

// Classify matches section text against the catalog's signatures.
//
// The signature with the longest matched phrase wins; on a tie the signature
// listed earlier in the catalog wins. Text that matches nothing is labelled
// General with Standard importance.
func Classify(cat *catalog.Catalog, text string, position int, docType schema.DocumentType) Classification {
	lower := strings.ToLower(text)

	best := -1
	bestLen := 0
	for i, sig := range cat.Signatures {
		for _, phrase := range sig.Phrases {
			if len(phrase) > bestLen && containsPhrase(lower, phrase) {
				best = i
				bestLen = len(phrase)
			}
		}
	}

	c := Classification{Label: schema.LabelGeneral, Importance: schema.ImportanceStandard}
	if best >= 0 {
		c.Label = cat.Signatures[best].Label
		c.Importance = cat.Signatures[best].Importance
	}
	c.Title = deriveTitle(text, c.Label)
	return c
}

// ClassifySections returns classified copies of doc's sections. The document
// is not modified.
func ClassifySections(cat *catalog.Catalog, doc *schema.Document) []schema.Section {
	out := make([]schema.Section, len(doc.Sections))
	for i, s := range doc.Sections {
		c := Classify(cat, s.Text(), s.Index, doc.Type)
		s.Label = c.Label
		s.Importance = c.Importance
		if s.Title == "" {
			s.Title = c.Title
		}
		if s.Status == "" {
			s.Status = schema.StatusUnchecked
		}
		out[i] = s
	}
	return out
}

// DetectType scores the text against each document type's keywords and
// returns the best type with a confidence in [0,1]. Filename hints count
// double. Text matching no keyword is Unknown with confidence 0.
func DetectType(cat *catalog.Catalog, filename, text string) (schema.DocumentType, float64) {
	lower := strings.ToLower(text)
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)

	scores := make(map[schema.DocumentType]float64)
	for _, dt := range schema.AllDocumentTypes() {
		for _, kw := range cat.TypeKeywords[dt] {
			weight := float64(len(strings.Fields(kw)))
			if n := strings.Count(lower, kw); n > 0 {
				scores[dt] += weight * float64(min(n, 3))
			}
			if containsPhrase(name, kw) {
				scores[dt] += 2 * weight
			}
		}
	}

	best, second := 0.0, 0.0
	bestType := schema.DocUnknown
	// AllDocumentTypes order keeps ties deterministic.
	for _, dt := range schema.AllDocumentTypes() {
		s := scores[dt]
		switch {
		case s > best:
			second = best
			best = s
			bestType = dt
		case s > second:
			second = s
		}
	}
	if best == 0 {
		return schema.DocUnknown, 0
	}

	confidence := best / (best + second + 1)
	if confidence > 1 {
		confidence = 1
	}
	return bestType, confidence
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], phrase)
		if idx < 0 {
			return false
		}
		i := start + idx
		j := i + len(phrase)
		if (i == 0 || !isWordByte(s[i-1])) && (j == len(s) || !isWordByte(s[j])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// deriveTitle returns the first non-empty line of text with heading markup
// removed, falling back to label when the line is too long to be a heading.
func deriveTitle(text, label string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*"))
		line = strings.TrimRight(line, ":*")
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			return label
		}
		return line
	}
	return label
}
