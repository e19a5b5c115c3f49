package index

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/time/rate"

	"github.com/decilog/decilog/internal/retry"
)

// Embedding retry policy.
const (
	embedMaxRetries   = 3
	embedInitialDelay = 500 * time.Millisecond
	embedMaxDelay     = 10 * time.Second
)

// NewEmbeddingFunc creates a chromem-go EmbeddingFunc from a Genkit
// ai.Embedder. The returned function bridges Genkit's embedding API with
// chromem-go's requirements; chromem-go normalizes vectors itself, so no
// manual normalization is needed.
//
// limiter, when non-nil, paces embedding calls (ingestion embeds the whole
// corpus in one run). Transient provider failures are retried with bounded
// exponential backoff; anything else fails immediately.
func NewEmbeddingFunc(embedder ai.Embedder, limiter *rate.Limiter) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		req := &ai.EmbedRequest{
			Input: []*ai.Document{
				ai.DocumentFromText(text, nil),
			},
		}

		var lastErr error
		delay := embedInitialDelay

		for attempt := 0; attempt <= embedMaxRetries; attempt++ {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("rate limit wait: %w", err)
				}
			}

			resp, err := embedder.Embed(ctx, req)
			if err == nil {
				if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
					return nil, fmt.Errorf("no embeddings returned")
				}
				return resp.Embeddings[0].Embedding, nil
			}

			lastErr = err
			if !retry.Transient(err) {
				return nil, fmt.Errorf("embed failed: %w", err)
			}
			if attempt == embedMaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("canceled during embed retry: %w", ctx.Err())
			case <-time.After(delay):
				delay = min(delay*2, embedMaxDelay)
			}
		}

		return nil, fmt.Errorf("embed failed after %d retries: %w", embedMaxRetries, lastErr)
	}
}
