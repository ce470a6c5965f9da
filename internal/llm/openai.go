package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// openaiAPIURL is a var to allow test overrides via httptest.
var openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// SetOpenAIAPIURL overrides the OpenAI API endpoint URL.
// Intended for use in tests only.
func SetOpenAIAPIURL(u string) { openaiAPIURL = u }

type openaiProvider struct {
	client
	model  string
	apiKey string // unexported; never serialized by encoding/json
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openaiProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	// Only include system message when non-empty to avoid unnecessary token usage.
	var messages []openaiMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.UserPrompt})

	body := openaiRequest{Model: model, Messages: messages, MaxTokens: req.MaxTokens}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	respBytes, status, err := p.post(ctx, openaiAPIURL, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, body)
	if err != nil {
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBytes, &oaiResp); err != nil {
		return nil, p.fail(status, fmt.Errorf("parsing response JSON (body: %s): %w", truncate(string(respBytes), 200), err))
	}
	if status != http.StatusOK {
		if oaiResp.Error != nil {
			return nil, p.fail(status, fmt.Errorf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message))
		}
		return nil, p.fail(status, errors.New(truncate(string(respBytes), 200)))
	}
	if len(oaiResp.Choices) == 0 || oaiResp.Choices[0].Message.Content == "" {
		return nil, p.fail(status, errors.New("empty choices in response"))
	}

	return &Response{
		Content: oaiResp.Choices[0].Message.Content,
		Model:   "openai:" + oaiResp.Model,
	}, nil
}
