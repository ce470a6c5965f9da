package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/schema"
)

func TestBuildUserPrompt_ContainsQuestionAndContext(t *testing.T) {
	chunks := []schema.Chunk{
		{Text: "Every company must have a registered office in ADGM.\n", Source: "companies.md", Reference: "ADGM Companies Regulations 2020, Section 115"},
	}
	prompt := BuildUserPrompt("  Where must the registered office be?  ", chunks)

	if !strings.Contains(prompt, "<question>\nWhere must the registered office be?\n</question>") {
		t.Errorf("prompt missing trimmed question: %q", prompt)
	}
	if !strings.Contains(prompt, `<context source="companies.md" reference="ADGM Companies Regulations 2020, Section 115">`) {
		t.Errorf("prompt missing context tag: %q", prompt)
	}
	if !strings.Contains(prompt, `"follow_ups"`) {
		t.Errorf("prompt missing answer schema: %q", prompt)
	}
}

func TestBuildUserPrompt_NoChunks_NoContextTags(t *testing.T) {
	prompt := BuildUserPrompt("anything", nil)
	if strings.Contains(prompt, "<context") {
		t.Errorf("prompt should not contain context tags without passages: %q", prompt)
	}
}

func TestFormatContext_RedactsPassages(t *testing.T) {
	out := FormatContext([]schema.Chunk{{Text: "Owner passport No: N1234567", Source: "upload"}})
	if strings.Contains(out, "N1234567") {
		t.Errorf("passport number leaked into prompt: %q", out)
	}
	if !strings.Contains(out, `<context source="upload">`) {
		t.Errorf("context tag without reference missing: %q", out)
	}
	if !strings.HasSuffix(out, "</context>\n") {
		t.Errorf("context not closed: %q", out)
	}
}

func TestBuildSystemPrompt_IncludesChecklist(t *testing.T) {
	cat := catalog.MustDefault()
	sys := BuildSystemPrompt(cat)
	if !strings.Contains(sys, cat.FormatForPrompt("")) {
		t.Error("system prompt does not contain the requirement checklist")
	}
	if strings.Contains(BuildSystemPrompt(nil), "Requirement checklist") {
		t.Error("system prompt without a catalog should omit the checklist")
	}
}

func TestNewProvider_UnknownPrefix(t *testing.T) {
	if _, err := NewProvider("gemini:gemini-pro"); err == nil {
		t.Error("expected error for unknown provider prefix, got nil")
	}
}

func TestNewProvider_InvalidFormat(t *testing.T) {
	for _, in := range []string{"nocolon", "anthropic:", ":model"} {
		if _, err := NewProvider(in); err == nil {
			t.Errorf("NewProvider(%q): expected error, got nil", in)
		}
	}
}

func TestNewProvider_NoKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewProvider("anthropic:claude-sonnet-4-6"); err == nil {
		t.Error("expected error when ANTHROPIC_API_KEY not set, got nil")
	}
	if _, err := NewProvider("openai:gpt-4o"); err == nil {
		t.Error("expected error when OPENAI_API_KEY not set, got nil")
	}
}

func TestNewProvider_WithKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key-for-construction-only")
	t.Setenv("OPENAI_API_KEY", "sk-test-key-for-construction-only")
	for _, in := range []string{"anthropic:claude-sonnet-4-6", "openai:gpt-4o"} {
		p, err := NewProvider(in)
		if err != nil {
			t.Fatalf("NewProvider(%q): %v", in, err)
		}
		if p == nil {
			t.Errorf("NewProvider(%q): expected non-nil provider", in)
		}
	}
}

func anthropicServer(t *testing.T, status int, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key header = %q", r.Header.Get("x-api-key"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.MaxTokens != defaultMaxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, defaultMaxTokens)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	prev := anthropicAPIURL
	SetAnthropicAPIURL(srv.URL)
	t.Cleanup(func() { SetAnthropicAPIURL(prev) })
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
}

func TestAnthropicComplete_Success(t *testing.T) {
	anthropicServer(t, http.StatusOK, `{"model":"claude-test","content":[{"type":"text","text":"{\"answer\":\"ok\"}"}]}`)
	p, err := NewProvider("anthropic:claude-test")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), &Request{SystemPrompt: "s", UserPrompt: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"answer":"ok"}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Model != "anthropic:claude-test" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestAnthropicComplete_ErrorsAreCompletionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error","message":"slow down"}}`},
		{"server error", http.StatusInternalServerError, `upstream exploded`},
		{"empty content", http.StatusOK, `{"model":"m","content":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anthropicServer(t, tt.status, tt.body)
			p, err := NewProvider("anthropic:claude-test")
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Complete(context.Background(), &Request{UserPrompt: "u"})
			if !IsCompletionError(err) {
				t.Fatalf("expected *CompletionError, got %T: %v", err, err)
			}
			if tt.status != http.StatusOK && !strings.Contains(err.Error(), "HTTP") {
				t.Errorf("error should carry the status: %v", err)
			}
		})
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()
	prev := openaiAPIURL
	SetOpenAIAPIURL(srv.URL)
	defer SetOpenAIAPIURL(prev)
	t.Setenv("OPENAI_API_KEY", "test-key")

	p, err := NewProvider("openai:gpt-test")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), &Request{SystemPrompt: "s", UserPrompt: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi" || resp.Model != "openai:gpt-test" {
		t.Errorf("response = %+v", resp)
	}
}

func TestComplete_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	prev := openaiAPIURL
	SetOpenAIAPIURL(url)
	defer SetOpenAIAPIURL(prev)
	t.Setenv("OPENAI_API_KEY", "test-key")

	p, err := NewProvider("openai:gpt-test")
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Complete(context.Background(), &Request{UserPrompt: "u"})
	if !IsCompletionError(err) {
		t.Fatalf("expected *CompletionError, got %T: %v", err, err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short string: got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello..." {
		t.Errorf("truncate long string: got %q", got)
	}
	if got := truncate("héllo", 3); got != "hél..." {
		t.Errorf("truncate multibyte: got %q, want %q", got, "hél...")
	}
}
