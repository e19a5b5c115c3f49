// Package testutil provides deterministic AI-provider fakes for tests:
// embedders that derive stable vectors from the input text, and a scriptable
// streaming generator. Nothing here talks to a network.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	chromem "github.com/philippgille/chromem-go"
)

// HashEmbedding returns a deterministic embedding function: the same text
// always maps to the same unit vector of the given dimension, and distinct
// texts almost surely map to distinct vectors. Identical query and document
// text therefore retrieves with the highest similarity, which is all the
// retrieval tests rely on.
func HashEmbedding(dimension int) chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		state := h.Sum64()

		vector := make([]float32, dimension)
		var norm float64
		for i := range vector {
			// xorshift64; cheap and stable across runs.
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			v := float64(int64(state)) / float64(math.MaxInt64)
			vector[i] = float32(v)
			norm += v * v
		}

		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
		return vector, nil
	}
}

// Embedder implements ai.Embedder deterministically. The zero value embeds
// with dimension 8; EmbedFn overrides the behavior entirely for failure
// injection.
type Embedder struct {
	Dimension int
	EmbedFn   func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)

	calls atomic.Int64
}

func (e *Embedder) Name() string { return "testutil/embedder" }

func (e *Embedder) Register(_ api.Registry) {}

// Calls reports how many Embed calls were made.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

func (e *Embedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.calls.Add(1)
	if e.EmbedFn != nil {
		return e.EmbedFn(ctx, req)
	}

	dimension := e.Dimension
	if dimension == 0 {
		dimension = 8
	}
	embed := HashEmbedding(dimension)

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		var text string
		for _, part := range doc.Content {
			text += part.Text
		}
		vector, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = &ai.Embedding{Embedding: vector}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// Generator is a scriptable streaming generator. It emits Tokens one at a
// time through the callback, then returns their concatenation. FailAfter
// injects Err after that many tokens (0 = fail before any output).
type Generator struct {
	Tokens    []string
	Err       error
	FailAfter int

	calls      atomic.Int64
	lastSystem atomic.Value // string
	lastPrompt atomic.Value // string
}

// Calls reports how many Generate calls were made.
func (g *Generator) Calls() int { return int(g.calls.Load()) }

// LastSystem returns the system instruction of the most recent call.
func (g *Generator) LastSystem() string {
	s, _ := g.lastSystem.Load().(string)
	return s
}

// LastPrompt returns the prompt of the most recent call.
func (g *Generator) LastPrompt() string {
	s, _ := g.lastPrompt.Load().(string)
	return s
}

func (g *Generator) Generate(ctx context.Context, system, prompt string, onToken func(context.Context, string) error) (string, error) {
	g.calls.Add(1)
	g.lastSystem.Store(system)
	g.lastPrompt.Store(prompt)

	var full string
	for i, token := range g.Tokens {
		if g.Err != nil && i == g.FailAfter {
			return "", g.Err
		}
		if err := onToken(ctx, token); err != nil {
			return "", fmt.Errorf("streaming callback: %w", err)
		}
		full += token
	}
	if g.Err != nil && g.FailAfter >= len(g.Tokens) {
		return "", g.Err
	}
	return full, nil
}
