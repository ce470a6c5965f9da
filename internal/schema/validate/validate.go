// Package validate parses and checks structured answers returned by an LLM.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxFollowUps caps the follow-up questions kept from a model answer.
const maxFollowUps = 5

// ModelAnswer is the JSON object the model is asked to return.
type ModelAnswer struct {
	Answer     string   `json:"answer"`
	References []string `json:"references"`
	FollowUps  []string `json:"follow_ups"`
}

// ParseAnswer strips markdown fences, unmarshals JSON, and validates a model
// answer. Every cited reference must be one of allowed (compared without
// regard to case or surrounding space), so a model cannot cite a regulation
// the retrieved context did not contain.
func ParseAnswer(raw string, allowed []string) (*ModelAnswer, error) {
	cleaned := stripFences(raw)

	var a ModelAnswer
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, fmt.Errorf("JSON parse failed: %w", err)
	}

	a.Answer = strings.TrimSpace(a.Answer)
	if a.Answer == "" {
		return nil, fmt.Errorf("answer is required")
	}

	known := make(map[string]string, len(allowed))
	for _, r := range allowed {
		known[normalize(r)] = r
	}
	refs := make([]string, 0, len(a.References))
	for i, r := range a.References {
		canonical, ok := known[normalize(r)]
		if !ok {
			return nil, fmt.Errorf("references[%d]: %q does not appear in the context", i, r)
		}
		refs = append(refs, canonical)
	}
	a.References = refs

	followUps := make([]string, 0, len(a.FollowUps))
	for _, f := range a.FollowUps {
		if f = strings.TrimSpace(f); f != "" && len(followUps) < maxFollowUps {
			followUps = append(followUps, f)
		}
	}
	a.FollowUps = followUps

	return &a, nil
}

// stripFences removes leading/trailing markdown code fences (```json ... ``` or ``` ... ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
	}
	if strings.HasSuffix(s, "```") {
		if idx := strings.LastIndex(s, "\n```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
