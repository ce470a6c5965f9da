// Package patch turns red-flag suggestions into unified diffs against the
// document text they were raised on.
package patch

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/dshills/filingcheck/internal/schema"
)

// edit is one located replacement. base is the text the patch is made
// against: the document itself, or its normalized form when the suggestion
// only matched after normalization.
type edit struct {
	label  string
	base   string
	before string
	after  string
}

// GenerateDiff converts the suggestions carried by flags into diff-match-patch
// text against the whole of text, so hunk offsets are document offsets. Each
// suggestion gets its own block made against the unmodified text. Flags
// without a suggestion are ignored. Suggestions whose before text cannot be
// located are skipped with a warning written to w (may be nil).
func GenerateDiff(name, text string, flags []schema.RedFlag, w io.Writer) string {
	normText := normalize(text)

	dmp := diffmatchpatch.New()
	var out strings.Builder

	for _, f := range flags {
		if f.Suggestion == nil {
			continue
		}
		label := fmt.Sprintf("%s %s at %s", name, f.Category, location(f.Location))
		e, ok := resolve(label, *f.Suggestion, text, normText)
		if !ok {
			if w != nil {
				fmt.Fprintf(w, "WARN: suggestion for %s could not be located (before text not matched)\n", label)
			}
			continue
		}

		i := strings.Index(e.base, e.before)
		fixed := e.base[:i] + e.after + e.base[i+len(e.before):]
		diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(e.base, fixed, false))
		patchText := dmp.PatchToText(dmp.PatchMake(e.base, diffs))
		if patchText == "" {
			continue
		}

		out.WriteString(fmt.Sprintf("# fix for %s\n", e.label))
		if e.base != text {
			out.WriteString("# offsets refer to the text with CRLF and trailing blanks normalized\n")
		}
		out.WriteString(patchText)
		out.WriteString("\n")
	}

	return out.String()
}

// ForRecord builds the diff for one analysis record against its sections
// joined the way they were parsed.
func ForRecord(rec schema.DocumentAnalysis, w io.Writer) string {
	if rec.Failed() || len(rec.Report.RedFlags) == 0 {
		return ""
	}
	texts := make([]string, len(rec.Sections))
	for i, s := range rec.Sections {
		texts[i] = s.Text()
	}
	return GenerateDiff(rec.Document.Filename, strings.Join(texts, "\n\n"), rec.Report.RedFlags, w)
}

// ForSession concatenates the diffs of every record in the session.
func ForSession(session schema.SessionAnalysis, w io.Writer) string {
	var out strings.Builder
	for _, rec := range session.Documents {
		out.WriteString(ForRecord(rec, w))
	}
	return out.String()
}

// resolve locates s.Before in text using exact, then whitespace-normalized
// matching.
func resolve(label string, s schema.Suggestion, text, normText string) (edit, bool) {
	if s.Before == "" {
		return edit{}, false
	}
	if strings.Contains(text, s.Before) {
		return edit{label: label, base: text, before: s.Before, after: s.After}, true
	}

	normBefore := normalize(s.Before)
	if strings.Contains(normText, normBefore) {
		return edit{label: label, base: normText, before: normBefore, after: normalize(s.After)}, true
	}

	return edit{}, false
}

// normalize trims trailing whitespace from each line and converts CRLF to LF.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func location(loc int) string {
	if loc == schema.DocumentLevel {
		return "document level"
	}
	return fmt.Sprintf("section %d", loc)
}
