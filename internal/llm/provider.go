package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// defaultTimeout bounds a single completion call.
const defaultTimeout = 2 * time.Minute

// defaultMaxTokens is the fallback when Request.MaxTokens is not set.
const defaultMaxTokens = 1024

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 10 * 1024 * 1024

// Request holds the parameters for an LLM completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// Model overrides the provider's configured model when non-empty.
	Model string
}

// Response holds the result of an LLM completion call.
type Response struct {
	Content string
	Model   string // actual model used, echoed back for meta
}

// Provider is the interface for LLM completion backends.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// CompletionError reports a failed completion call: transport failure,
// timeout, quota or an unusable response. Callers degrade rather than abort.
type CompletionError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (HTTP %d): %s", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %s", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err is a *CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}

// Option configures a provider.
type Option func(*client)

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// client is the HTTP plumbing shared by the providers.
type client struct {
	name string
	http *http.Client
}

// NewProvider parses a "provider:model" string and returns the appropriate Provider.
// The API key is read from the environment at construction time and validated immediately.
// Example: "anthropic:claude-sonnet-4-6" or "openai:gpt-4o".
func NewProvider(providerModel string, opts ...Option) (Provider, error) {
	parts := strings.SplitN(providerModel, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid model format %q: expected provider:model (e.g. anthropic:claude-sonnet-4-6)", providerModel)
	}
	c := client{name: parts[0], http: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(&c)
	}
	switch parts[0] {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		return &anthropicProvider{client: c, model: parts[1], apiKey: apiKey}, nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		return &openaiProvider{client: c, model: parts[1], apiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q: supported providers are anthropic, openai", parts[0])
	}
}

// post sends body as JSON to url and returns the raw response body and status.
// Transport failures come back as *CompletionError.
func (c *client) post(ctx context.Context, url string, headers map[string]string, body any) ([]byte, int, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, c.fail(0, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, c.fail(resp.StatusCode, fmt.Errorf("reading response body: %w", err))
	}
	return respBytes, resp.StatusCode, nil
}

func (c *client) fail(status int, err error) *CompletionError {
	return &CompletionError{Provider: c.name, StatusCode: status, Err: err}
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
