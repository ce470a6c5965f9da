// Package redflag runs the pattern detectors that surface compliance concerns
// the rule scorer does not express: foreign courts, hedging language in
// critical clauses, missing sections, incomplete ownership declarations and
// unsigned documents.
package redflag

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/schema"
)

// jurisdictionLabel is the classifier label of governing-law clauses.
const jurisdictionLabel = "Jurisdiction"

// Detector inspects classified sections and returns its red flags.
// Detectors are pure and safe to run concurrently.
type Detector func(cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) []schema.RedFlag

// Detectors returns the built-in detectors in their fixed run order.
func Detectors() []Detector {
	return []Detector{
		Jurisdiction,
		AmbiguousLanguage,
		MissingSections,
		IncompleteOwnership,
		MissingSignature,
	}
}

// Detect runs every detector concurrently and returns the combined flags
// sorted by severity (most severe first), then location (document-level
// first), then category. Equal flags keep detector order.
func Detect(cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	return run(Detectors(), cat, docType, sections)
}

func run(detectors []Detector, cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	results := make([][]schema.RedFlag, len(detectors))

	var g errgroup.Group
	for i, d := range detectors {
		g.Go(func() error {
			results[i] = d(cat, docType, sections)
			return nil
		})
	}
	_ = g.Wait() // detectors never fail

	flags := []schema.RedFlag{}
	for _, r := range results {
		flags = append(flags, r...)
	}
	Sort(flags)
	return flags
}

// Sort orders flags by severity descending, location ascending, then
// category. The sort is stable.
func Sort(flags []schema.RedFlag) {
	sort.SliceStable(flags, func(i, j int) bool {
		a, b := flags[i], flags[j]
		if oa, ob := schema.SeverityOrdinal(a.Severity), schema.SeverityOrdinal(b.Severity); oa != ob {
			return oa > ob
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Category < b.Category
	})
}

// Jurisdiction flags sections that send disputes to a competing court system.
// A section is flagged when it names a competing court, does not itself name
// the regulator's courts, and either the document never names them or the
// section is the governing-law clause. A mention that excludes the
// regulator's courts ("and not the ADGM Courts") does not count as naming
// them.
func Jurisdiction(cat *catalog.Catalog, _ schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	docNamesCourts := false
	for _, s := range sections {
		if cat.NamesCourts(s.Text()) {
			docNamesCourts = true
			break
		}
	}

	var flags []schema.RedFlag
	for _, s := range sections {
		text := s.Text()
		if cat.NamesCourts(text) {
			continue
		}
		if docNamesCourts && s.Label != jurisdictionLabel {
			continue
		}
		var names []string
		var first catalog.Jurisdiction
		for _, j := range cat.Competing {
			if j.Pattern.MatchString(text) {
				if len(names) == 0 {
					first = j
				}
				names = append(names, j.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		flags = append(flags, schema.RedFlag{
			Category: schema.FlagJurisdictionMismatch,
			Severity: schema.SeverityCritical,
			Description: fmt.Sprintf("Section %q refers disputes to %s instead of the %s",
				sectionName(s), strings.Join(names, ", "), cat.CourtsPhrase),
			Location:    s.Index,
			Remediation: fmt.Sprintf("Replace the reference with the %s.", cat.CourtsPhrase),
			Suggestion:  courtSuggestion(cat, text, first),
		})
	}
	return flags
}

// courtSuggestion rewrites the first line naming j to name the regulator's
// courts. A line that excludes the regulator's courts has the two swapped.
func courtSuggestion(cat *catalog.Catalog, text string, j catalog.Jurisdiction) *schema.Suggestion {
	const placeholder = "\x00"
	for _, line := range strings.Split(text, "\n") {
		if !j.Pattern.MatchString(line) {
			continue
		}
		after := cat.Courts.ReplaceAllLiteralString(line, placeholder)
		after = j.Pattern.ReplaceAllLiteralString(after, cat.CourtsPhrase)
		after = strings.ReplaceAll(after, placeholder, j.Name)
		return &schema.Suggestion{Before: line, After: after}
	}
	return nil
}

// AmbiguousLanguage flags hedging phrases inside Critical-importance sections,
// one flag per section and phrase.
func AmbiguousLanguage(cat *catalog.Catalog, _ schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	var flags []schema.RedFlag
	for _, s := range sections {
		if s.Importance != schema.ImportanceCritical {
			continue
		}
		text := s.Text()
		for _, h := range cat.Hedges {
			if !h.Pattern.MatchString(text) {
				continue
			}
			flags = append(flags, schema.RedFlag{
				Category:    schema.FlagAmbiguousLanguage,
				Severity:    schema.SeverityMedium,
				Description: fmt.Sprintf("Ambiguous phrase %q in critical section %q", h.Phrase, sectionName(s)),
				Location:    s.Index,
				Remediation: "Replace discretionary wording with a definite obligation (\"shall\").",
			})
		}
	}
	return flags
}

// MissingSections flags each required section label absent from the document.
func MissingSections(cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	present := make(map[string]bool, len(sections))
	for _, s := range sections {
		present[s.Label] = true
	}

	var flags []schema.RedFlag
	for _, label := range cat.RequiredSections[docType] {
		if present[label] {
			continue
		}
		flags = append(flags, schema.RedFlag{
			Category:    schema.FlagMissingSection,
			Severity:    schema.SeverityHigh,
			Description: fmt.Sprintf("Required section %q is missing from the %s", label, docType),
			Location:    schema.DocumentLevel,
			Remediation: fmt.Sprintf("Add a %s section.", label),
		})
	}
	return flags
}

// IncompleteOwnership checks every beneficial-owner entry of a UBO declaration
// for the catalog's required fields and flags each missing one.
func IncompleteOwnership(cat *catalog.Catalog, docType schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	if docType != schema.DocUBODeclaration {
		return nil
	}

	var flags []schema.RedFlag
	for _, e := range ownerEntries(cat, sections) {
		for _, f := range cat.OwnerFields {
			if f.Pattern.MatchString(e.text) {
				continue
			}
			flags = append(flags, schema.RedFlag{
				Category:    schema.FlagIncompleteOwnership,
				Severity:    schema.SeverityCritical,
				Description: fmt.Sprintf("Beneficial owner entry %q is missing %s", entryName(e.text), f.Name),
				Location:    e.section,
				Remediation: fmt.Sprintf("Provide the %s of every beneficial owner.", f.Name),
			})
		}
	}
	return flags
}

type ownerEntry struct {
	section int
	text    string
}

// ownerEntries splits the document into owner entries at each entry marker.
// Text before the first marker of a section belongs to no entry. Only when no
// section carries a marker does a beneficial-ownership section that holds at
// least one owner field count as a single entry.
func ownerEntries(cat *catalog.Catalog, sections []schema.Section) []ownerEntry {
	var entries []ownerEntry
	for _, s := range sections {
		text := s.Text()
		locs := cat.OwnerEntry.FindAllStringIndex(text, -1)
		for i, loc := range locs {
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			entries = append(entries, ownerEntry{section: s.Index, text: text[loc[0]:end]})
		}
	}
	if len(entries) > 0 || cat.OwnerSectionLabel == "" {
		return entries
	}

	for _, s := range sections {
		if s.Label != cat.OwnerSectionLabel {
			continue
		}
		text := s.Text()
		for _, f := range cat.OwnerFields {
			if f.Pattern.MatchString(text) {
				entries = append(entries, ownerEntry{section: s.Index, text: text})
				break
			}
		}
	}
	return entries
}

func entryName(entry string) string {
	for _, line := range strings.Split(entry, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*-"))
		if line != "" {
			return strings.TrimRight(line, ":*")
		}
	}
	return "beneficial owner"
}

// MissingSignature flags a document with no execution marker anywhere.
func MissingSignature(cat *catalog.Catalog, _ schema.DocumentType, sections []schema.Section) []schema.RedFlag {
	for _, s := range sections {
		text := s.Text()
		for _, m := range cat.SignatureMarkers {
			if m.MatchString(text) {
				return nil
			}
		}
	}
	return []schema.RedFlag{{
		Category:    schema.FlagMissingSignature,
		Severity:    schema.SeverityHigh,
		Description: "No signature or execution block found",
		Location:    schema.DocumentLevel,
		Remediation: "Add an execution block with the signatory's name, capacity and date.",
	}}
}

func sectionName(s schema.Section) string {
	if s.Title != "" {
		return s.Title
	}
	return fmt.Sprintf("#%d", s.Index)
}
