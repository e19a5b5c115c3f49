// Package query implements the online answering pipeline: question →
// embedding → k-NN retrieval → context assembly → streamed generation.
//
// The pipeline fails closed. Invalid input is rejected before any provider
// call; every failure past that point is logged and converted into a fixed
// failure message delivered through the normal stream, so a bad turn never
// takes the session down with it.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/decilog/decilog/internal/index"
	"github.com/decilog/decilog/internal/retry"
)

// ErrEmptyQuestion indicates an empty or whitespace-only question. Returned
// by Ask before any external call is made.
var ErrEmptyQuestion = errors.New("question must not be empty")

const (
	// questionTemplate wraps the user's question for the generation prompt.
	// Retrieval always uses the raw question; the wrapper exists only to give
	// the model an unambiguous boundary around user text.
	questionTemplate = `The question is: "%s".`

	// systemInstruction pins the model to the retrieved context. The
	// reference link sentence embedded in every chunk is what makes the
	// citation requirement satisfiable.
	systemInstruction = `You are an assistant answering questions about a decision log.
Answer using only the context below. Include the reference URL found in the
context so the reader can verify the answer at its source. If the context does
not contain the answer, say you do not know instead of guessing.

Context:
%s`

	// FailureMessage is the only text a caller sees when a turn fails.
	FailureMessage = "Sorry, an error occurred while generating the answer. Please try again."
)

// Generation retry policy, transient failures only.
const (
	generateMaxRetries   = 3
	generateInitialDelay = 500 * time.Millisecond
	generateMaxDelay     = 10 * time.Second
)

// Retriever is the pipeline's view of the vector index. *index.Index
// satisfies it.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]index.Result, error)
}

// Generator produces a streamed answer. Implementations call onToken for
// each token in order; the returned string is the complete answer.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, onToken func(context.Context, string) error) (string, error)
}

// Config contains the query pipeline's dependencies.
type Config struct {
	Retriever Retriever
	Generator Generator
	TopK      int // retrieval width; defaults to 10
	Logger    *slog.Logger
}

// Pipeline answers questions over the indexed corpus. Safe for concurrent
// use; all state is read-only after New.
type Pipeline struct {
	retriever Retriever
	generator Generator
	topK      int
	logger    *slog.Logger
}

// New creates a query pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	topK := cfg.TopK
	if topK == 0 {
		topK = 10
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", index.ErrInvalidTopK, topK)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		topK:      topK,
		logger:    logger,
	}, nil
}

// Ask starts one answer turn. The returned stream delivers the answer
// token-by-token; canceling ctx stops generation and closes the stream.
//
// Past input validation, Ask does not fail: retrieval and generation errors
// surface as the fixed failure message on the stream, never as an error.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Stream, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	s := newStream()
	go p.answer(ctx, question, s)
	return s, nil
}

func (p *Pipeline) answer(ctx context.Context, question string, s *Stream) {
	final, stage, err := p.run(ctx, question, s)
	if err == nil {
		s.finish(final)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.logger.Debug("answer turn canceled", "stage", stage)
		s.finish("")
		return
	}

	p.logger.Error("answer turn failed",
		"stage", stage,
		"question", question,
		"error", err)

	// Deliver the failure message through the normal token path so every
	// consumer, streaming or not, sees the same text.
	if s.send(ctx, FailureMessage) != nil {
		s.finish("")
		return
	}
	s.finish(FailureMessage)
}

// run executes the turn and reports the stage of the first failure.
func (p *Pipeline) run(ctx context.Context, question string, s *Stream) (final, stage string, err error) {
	results, err := p.retriever.Search(ctx, question, p.topK)
	if err != nil {
		return "", "retrieval", err
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	system := fmt.Sprintf(systemInstruction, strings.Join(texts, "\n\n"))
	prompt := fmt.Sprintf(questionTemplate, question)

	final, err = p.generate(ctx, system, prompt, s)
	if err != nil {
		return "", "generation", err
	}
	return final, "", nil
}

// generate streams one completion, retrying transient provider failures as
// long as no token has been forwarded yet. Once the caller has seen output,
// a retry would replay the answer from the start, so the turn fails instead.
func (p *Pipeline) generate(ctx context.Context, system, prompt string, s *Stream) (string, error) {
	var lastErr error
	delay := generateInitialDelay

	for attempt := 0; attempt <= generateMaxRetries; attempt++ {
		var forwarded bool
		final, err := p.generator.Generate(ctx, system, prompt, func(ctx context.Context, token string) error {
			forwarded = true
			return s.send(ctx, token)
		})
		if err == nil {
			return final, nil
		}

		lastErr = err
		if forwarded || !retry.Transient(err) || attempt == generateMaxRetries {
			break
		}
		p.logger.Warn("generation attempt failed, retrying",
			"attempt", attempt+1,
			"error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
			delay = min(delay*2, generateMaxDelay)
		}
	}
	return "", lastErr
}
