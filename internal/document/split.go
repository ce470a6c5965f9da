package document

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/filingcheck/internal/schema"
)

// maxHeadingRunes bounds the length of a line treated as a heading.
const maxHeadingRunes = 80

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+\S`)
	articleHeading  = regexp.MustCompile(`(?i)^(?:article|section|clause|part|schedule)\s+(?:\d+|[ivxlc]+)\b`)
	numberedHeading = regexp.MustCompile(`^\d{1,2}\.?\s+[A-Z][^.;:]*$`)
	blankLines      = regexp.MustCompile(`\n[ \t]*\n`)
)

// Split breaks text into sections at heading lines. Text before the first
// heading becomes an untitled preamble section. Text without any heading is
// split into paragraphs instead.
func Split(text string) ([]schema.Section, error) {
	lines := strings.Split(text, "\n")

	type block struct {
		title string
		body  []string
	}
	var blocks []block
	cur := block{}
	headings := 0
	for _, line := range lines {
		if isHeading(line) {
			if cur.title != "" || strings.TrimSpace(strings.Join(cur.body, "\n")) != "" {
				blocks = append(blocks, cur)
			}
			cur = block{title: headingTitle(line)}
			headings++
			continue
		}
		cur.body = append(cur.body, line)
	}
	if cur.title != "" || strings.TrimSpace(strings.Join(cur.body, "\n")) != "" {
		blocks = append(blocks, cur)
	}

	if headings == 0 {
		return paragraphs(text)
	}

	sections := make([]schema.Section, 0, len(blocks))
	for i, b := range blocks {
		s, err := schema.NewSection(i, strings.TrimSpace(strings.Join(b.body, "\n")))
		if err != nil {
			return nil, err
		}
		s.Title = b.title
		sections = append(sections, s)
	}
	return sections, nil
}

func paragraphs(text string) ([]schema.Section, error) {
	var sections []schema.Section
	for _, p := range blankLines.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		s, err := schema.NewSection(len(sections), p)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, nil
}

func isHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > maxHeadingRunes {
		return false
	}
	return markdownHeading.MatchString(line) ||
		articleHeading.MatchString(line) ||
		numberedHeading.MatchString(line) ||
		allCaps(line)
}

// allCaps reports whether line is mostly letters, with at least three of
// them and none in lower case.
func allCaps(line string) bool {
	letters, other := 0, 0
	for _, r := range line {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsLetter(r):
			letters++
		case !unicode.IsSpace(r):
			other++
		}
	}
	return letters >= 3 && letters > other
}

func headingTitle(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	return strings.Trim(line, "*_ ")
}
