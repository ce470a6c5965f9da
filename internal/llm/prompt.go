package llm

import (
	"fmt"
	"strings"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/redact"
	"github.com/dshills/filingcheck/internal/schema"
)

const systemPromptBase = `You are a corporate filings assistant for companies incorporated in Abu Dhabi Global Market (ADGM). You answer questions about ADGM incorporation and compliance requirements.

Grounding rules:
- Answer only from the provided <context> passages and the requirement checklist below
- If the context does not answer the question, say so plainly
- Only cite references that appear in the context passages; never invent regulation numbers
- Do not give advice beyond the regulatory requirements stated in the context

Output rules:
- Return JSON only: no prose, no markdown fences, no explanation
- JSON must match the provided schema exactly
- Do not include a confidence value; it is computed externally`

const answerSchema = `{
  "answer": "Plain-language answer in at most three short paragraphs",
  "references": ["exact reference string from a context passage"],
  "follow_ups": ["a related question the user may want to ask next"]
}`

// BuildSystemPrompt constructs the question-answering system prompt, with the
// catalog's session checklist appended when a catalog is given.
func BuildSystemPrompt(cat *catalog.Catalog) string {
	var sb strings.Builder
	sb.WriteString(systemPromptBase)
	if cat != nil {
		sb.WriteString("\n\nRequirement checklist:\n")
		sb.WriteString(cat.FormatForPrompt(""))
	}
	return sb.String()
}

// BuildUserPrompt constructs the user prompt from the question, the retrieved
// context passages and the JSON schema example. Passages are redacted before
// insertion.
func BuildUserPrompt(question string, chunks []schema.Chunk) string {
	var sb strings.Builder

	sb.WriteString("Answer the following question about ADGM filings.\n\n")
	sb.WriteString("<question>\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n</question>\n")

	if len(chunks) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatContext(chunks))
	}

	sb.WriteString("\nReturn your answer as JSON with this structure:\n")
	sb.WriteString(answerSchema)

	return sb.String()
}

// FormatContext wraps each passage in XML-style tags for prompt insertion.
func FormatContext(chunks []schema.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		if c.Reference != "" {
			sb.WriteString(fmt.Sprintf("<context source=%q reference=%q>\n", c.Source, c.Reference))
		} else {
			sb.WriteString(fmt.Sprintf("<context source=%q>\n", c.Source))
		}
		text := redact.Redact(c.Text)
		sb.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("</context>\n")
	}
	return sb.String()
}
