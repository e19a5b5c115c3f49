package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/decilog/decilog/internal/testutil"
)

func TestNewEmbeddingFunc(t *testing.T) {
	embedder := &testutil.Embedder{Dimension: 8}
	embed := NewEmbeddingFunc(embedder, nil)

	vector, err := embed(context.Background(), "some chunk text")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vector) != 8 {
		t.Errorf("vector dimension = %d, want 8", len(vector))
	}

	// Same text, same vector.
	again, err := embed(context.Background(), "some chunk text")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	for i := range vector {
		if vector[i] != again[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
}

func TestNewEmbeddingFunc_EmptyResponse(t *testing.T) {
	embedder := &testutil.Embedder{
		EmbedFn: func(_ context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
			return &ai.EmbedResponse{}, nil
		},
	}
	embed := NewEmbeddingFunc(embedder, nil)

	if _, err := embed(context.Background(), "text"); err == nil {
		t.Error("expected error for empty embedding response, got nil")
	}
}

func TestNewEmbeddingFunc_PermanentErrorNotRetried(t *testing.T) {
	embedder := &testutil.Embedder{
		EmbedFn: func(_ context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
			return nil, errors.New("API key not valid")
		},
	}
	embed := NewEmbeddingFunc(embedder, nil)

	if _, err := embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := embedder.Calls(); got != 1 {
		t.Errorf("permanent failure made %d calls, want 1", got)
	}
}

func TestNewEmbeddingFunc_TransientErrorRetried(t *testing.T) {
	inner := &testutil.Embedder{Dimension: 4}
	failures := 2
	embedder := &testutil.Embedder{
		EmbedFn: func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
			if failures > 0 {
				failures--
				return nil, errors.New("429 resource exhausted")
			}
			return inner.Embed(ctx, req)
		},
	}
	embed := NewEmbeddingFunc(embedder, nil)

	vector, err := embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("embed failed after transient errors: %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("vector dimension = %d, want 4", len(vector))
	}
	if got := embedder.Calls(); got != 3 {
		t.Errorf("made %d calls, want 3 (two failures + one success)", got)
	}
}

func TestNewEmbeddingFunc_LimiterCancellation(t *testing.T) {
	embedder := &testutil.Embedder{Dimension: 4}
	// A limiter that can never be satisfied forces the wait path.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	_ = limiter.Allow() // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embed := NewEmbeddingFunc(embedder, limiter)
	if _, err := embed(ctx, "text"); err == nil {
		t.Error("expected error from canceled limiter wait, got nil")
	}
	if got := embedder.Calls(); got != 0 {
		t.Errorf("made %d provider calls under canceled context, want 0", got)
	}
}
