// Package redact strips credentials and personal identifiers from text before
// it leaves the process in an LLM prompt.
package redact

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// pemPattern matches PEM key blocks across multiple lines.
var pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+KEY-----.*?-----END [A-Z ]+KEY-----`)

// secretPatterns holds single-line credential regexes in priority order.
var secretPatterns = []*regexp.Regexp{
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// OpenAI / Anthropic secret keys, word-boundary aware
	regexp.MustCompile(`(?:^|\s|["'])sk-[a-zA-Z0-9]{20,}`),
	// JWT tokens (three base64url segments)
	regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
	// Bearer tokens; minimum 20-char token
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`),
	// Inline password assignments
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
}

// piiPatterns holds personal identifiers that appear in filings.
var piiPatterns = []*regexp.Regexp{
	// Emirates ID: 784-YYYY-NNNNNNN-C, separators optional
	regexp.MustCompile(`\b784[- ]?\d{4}[- ]?\d{7}[- ]?\d\b`),
	// UAE IBAN
	regexp.MustCompile(`\bAE\d{2}[ ]?(?:\d{4}[ ]?){4}\d{3}\b`),
	// Labelled passport numbers
	regexp.MustCompile(`((?i:passport)\s*(?:(?i:no)\.?|(?i:number))?\s*[:#]?\s*)[A-Z]{0,2}\d{6,9}\b`),
	// Email addresses
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// UAE phone numbers
	regexp.MustCompile(`(?:\+|00)971[ \-]?\d{1,2}[ \-]?\d{3}[ \-]?\d{4}\b`),
}

// Redact replaces known secret and personal-identifier patterns with
// [REDACTED]. The number of newlines in the output always equals the number
// in the input.
func Redact(input string) string {
	// PEM blocks first, line by line, so the line count is kept.
	input = pemPattern.ReplaceAllStringFunc(input, func(match string) string {
		lines := strings.Split(match, "\n")
		for i := range lines {
			lines[i] = redacted
		}
		return strings.Join(lines, "\n")
	})

	for _, re := range secretPatterns {
		input = re.ReplaceAllString(input, redacted)
	}
	for _, re := range piiPatterns {
		if re.NumSubexp() > 0 {
			// Keep the label, drop the value.
			input = re.ReplaceAllString(input, "${1}"+redacted)
			continue
		}
		input = re.ReplaceAllString(input, redacted)
	}
	return input
}
