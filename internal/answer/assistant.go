package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/llm"
	"github.com/dshills/filingcheck/internal/schema"
	"github.com/dshills/filingcheck/internal/schema/validate"
)

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 5

// DefaultTemperature is used when Assistant.Temperature is zero.
const DefaultTemperature = 0.1

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Retriever ranks knowledge-base passages against a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]schema.Chunk, error)
}

// Observer is notified of every answer produced.
type Observer interface {
	ObserveAnswer(schema.Answer)
}

// Assistant answers questions from a knowledge base. Provider is optional:
// without one the templated answer is returned as is.
type Assistant struct {
	Retriever   Retriever
	Provider    llm.Provider
	Catalog     *catalog.Catalog
	TopK        int
	Temperature float64
	Logger      *slog.Logger
	Observer    Observer
}

// AnswerQuestion retrieves passages for question and answers from them.
func (a *Assistant) AnswerQuestion(ctx context.Context, question string) (schema.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return schema.Answer{}, ErrEmptyQuestion
	}
	topK := a.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	chunks, err := a.Retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return schema.Answer{}, fmt.Errorf("retrieving passages: %w", err)
	}
	return a.AnswerWithContext(ctx, question, chunks), nil
}

// AnswerWithContext answers question from the given passages. It never
// fails: completion or validation errors fall back to the templated answer
// with Fallback set.
func (a *Assistant) AnswerWithContext(ctx context.Context, question string, chunks []schema.Chunk) schema.Answer {
	ans := Assemble(question, chunks)
	if a.Provider != nil && len(chunks) > 0 {
		a.rewrite(ctx, &ans, chunks)
	}
	if a.Observer != nil {
		a.Observer.ObserveAnswer(ans)
	}
	return ans
}

func (a *Assistant) rewrite(ctx context.Context, ans *schema.Answer, chunks []schema.Chunk) {
	log := a.logger()
	temperature := a.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	resp, err := a.Provider.Complete(ctx, &llm.Request{
		SystemPrompt: llm.BuildSystemPrompt(a.Catalog),
		UserPrompt:   llm.BuildUserPrompt(ans.Question, chunks),
		Temperature:  temperature,
	})
	if err != nil {
		log.Warn("completion failed, using templated answer", "error", err, "provider_error", llm.IsCompletionError(err))
		ans.Fallback = true
		return
	}

	m, err := validate.ParseAnswer(resp.Content, ans.References)
	if err != nil {
		log.Warn("model answer rejected, using templated answer", "model", resp.Model, "error", err)
		ans.Fallback = true
		return
	}
	log.Debug("model answer accepted", "model", resp.Model, "references", len(m.References))
	ans.Text = m.Answer
	if len(m.FollowUps) > 0 {
		ans.FollowUps = m.FollowUps
	}
}

func (a *Assistant) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
