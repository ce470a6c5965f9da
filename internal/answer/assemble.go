// Package answer assembles grounded answers to free-text questions from
// ranked knowledge-base passages, optionally rewritten by an LLM.
package answer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/filingcheck/internal/schema"
)

// NoInformation is the answer text when retrieval found nothing relevant.
const NoInformation = "No information found in the ADGM knowledge base for this question. Try rephrasing it or consult the ADGM Registration Authority."

const (
	maxPassages  = 3
	maxSentences = 2
	maxTopics    = 4
	maxFollowUps = 3
)

var (
	// referencePattern finds citations such as
	// "ADGM Companies Regulations 2020, Section 17".
	referencePattern = regexp.MustCompile(`(?:[A-Z][A-Za-z]*,?\s+(?:(?:and|of)\s+)?)+(?:Regulations|Rules)\s+\d{4}(?:,\s*(?:Section|Regulation|Rule|Schedule|Part)\s+\d+[A-Z]?)?`)
	referenceLine    = regexp.MustCompile(`(?i)^reference:`)
	sentenceEnd      = regexp.MustCompile(`[.!?](?:\s+|$)`)
)

type topic struct {
	name     string
	keywords []string
	followUp string
}

var topics = []topic{
	{"Beneficial ownership", []string{"beneficial owner", "ubo", "ownership"}, "What particulars must be declared for each beneficial owner?"},
	{"Jurisdiction", []string{"court", "jurisdiction", "governing law", "dispute"}, "Which courts should the articles name for disputes?"},
	{"Registered office", []string{"registered office", "registered address"}, "Can the registered office be outside ADGM?"},
	{"Share capital", []string{"share capital", "shares", "statement of capital"}, "What must the statement of capital include?"},
	{"Directors", []string{"director"}, "What must the register of directors record?"},
	{"Resolutions", []string{"resolution", "quorum", "resolved"}, "When must a special resolution be filed with the Registrar?"},
	{"Incorporation", []string{"incorporat", "registrar", "application for registration"}, "Which documents are required to incorporate a company?"},
	{"Execution", []string{"signed", "signature", "execut", "witness"}, "How must a company document be executed?"},
}

// Assemble builds an answer from ranked passages. It never fails: with no
// passages the answer says so with zero confidence and no references.
//
// Confidence is the top passage's similarity scaled by agreement: passages
// sharing a reference with the top passage (the top counts itself) raise it
// from 0.6 to 1.0 of that similarity. It is a ranking signal, not a
// probability.
func Assemble(question string, chunks []schema.Chunk) schema.Answer {
	ans := schema.Answer{
		Question:      question,
		References:    []string{},
		RelatedTopics: []string{},
		FollowUps:     []string{},
		Sources:       []schema.Chunk{},
	}
	if len(chunks) == 0 {
		ans.Text = NoInformation
		return ans
	}
	ans.Sources = append(ans.Sources, chunks...)

	refsPer := make([][]string, len(chunks))
	seen := make(map[string]bool)
	for i, c := range chunks {
		refsPer[i] = References(c)
		for _, r := range refsPer[i] {
			if !seen[r] {
				seen[r] = true
				ans.References = append(ans.References, r)
			}
		}
	}

	agreeing := 1
	top := make(map[string]bool, len(refsPer[0]))
	for _, r := range refsPer[0] {
		top[r] = true
	}
	for _, refs := range refsPer[1:] {
		for _, r := range refs {
			if top[r] {
				agreeing++
				break
			}
		}
	}
	ans.Confidence = clamp(chunks[0].Similarity * (0.6 + 0.4*float64(agreeing)/float64(len(chunks))))

	ans.Text = synthesize(chunks, refsPer)

	var corpus strings.Builder
	corpus.WriteString(strings.ToLower(question))
	for _, c := range chunks[:min(len(chunks), maxPassages)] {
		corpus.WriteString("\n")
		corpus.WriteString(strings.ToLower(c.Text))
	}
	ans.RelatedTopics, ans.FollowUps = relatedTopics(corpus.String(), question)
	return ans
}

// References returns the distinct citations of a passage: its reference
// field first, then any found in its text.
func References(c schema.Chunk) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(r string) {
		r = strings.Join(strings.Fields(r), " ")
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	add(c.Reference)
	for _, m := range referencePattern.FindAllString(c.Text, -1) {
		add(m)
	}
	return out
}

func synthesize(chunks []schema.Chunk, refsPer [][]string) string {
	var sb strings.Builder
	sb.WriteString("Based on the ADGM knowledge base:\n")
	for i, c := range chunks[:min(len(chunks), maxPassages)] {
		passage := summary(c.Text)
		if passage == "" {
			continue
		}
		sb.WriteString("\n- ")
		sb.WriteString(passage)
		if len(refsPer[i]) > 0 {
			sb.WriteString(fmt.Sprintf(" (%s)", refsPer[i][0]))
		}
	}
	return sb.String()
}

// summary returns the first sentences of a passage without heading or
// reference lines.
func summary(text string) string {
	var body []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || referenceLine.MatchString(line) {
			continue
		}
		body = append(body, line)
	}
	joined := strings.Join(body, " ")

	ends := sentenceEnd.FindAllStringIndex(joined, maxSentences)
	if len(ends) < maxSentences {
		return joined
	}
	return strings.TrimSpace(joined[:ends[maxSentences-1][1]])
}

func relatedTopics(corpus, question string) ([]string, []string) {
	names := []string{}
	followUps := []string{}
	q := strings.ToLower(strings.TrimSpace(question))
	for _, t := range topics {
		if len(names) == maxTopics {
			break
		}
		for _, kw := range t.keywords {
			if strings.Contains(corpus, kw) {
				names = append(names, t.name)
				if len(followUps) < maxFollowUps && strings.ToLower(t.followUp) != q {
					followUps = append(followUps, t.followUp)
				}
				break
			}
		}
	}
	return names, followUps
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
