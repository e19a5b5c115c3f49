// Package app wires configuration, the AI runtime, and the domain packages
// into runnable pipelines. Everything here is composition; the behavior
// lives in ingest, index, query, and session.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/decilog/decilog/internal/chunker"
	"github.com/decilog/decilog/internal/config"
	"github.com/decilog/decilog/internal/index"
	"github.com/decilog/decilog/internal/ingest"
	"github.com/decilog/decilog/internal/notion"
	"github.com/decilog/decilog/internal/query"
	"github.com/decilog/decilog/internal/session"
)

// Embedding call pacing for ingestion runs, where the whole corpus is
// embedded back-to-back. Query-time embedding is one call per turn and runs
// unpaced.
const (
	ingestEmbedInterval = 100 * time.Millisecond
	ingestEmbedBurst    = 5
)

// App holds the shared dependencies built by Setup.
type App struct {
	Config   *config.Config
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Logger   *slog.Logger
}

// IngestPipeline builds the offline ingestion pipeline from the app's
// configuration. Requires the source credentials to be set.
func (a *App) IngestPipeline() (*ingest.Pipeline, error) {
	if err := a.Config.ValidateSource(); err != nil {
		return nil, err
	}

	client, err := notion.New(a.Config.NotionToken, a.Logger)
	if err != nil {
		return nil, err
	}

	splitter, err := chunker.New(a.Config.ChunkSize, a.Config.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(ingestEmbedInterval), ingestEmbedBurst)

	return ingest.New(ingest.Config{
		Source:        client,
		DatabaseID:    a.Config.NotionDatabaseID,
		Splitter:      splitter,
		Embed:         index.NewEmbeddingFunc(a.Embedder, limiter),
		EmbedderModel: a.Config.EmbedderModel,
		VectorDir:     a.Config.VectorDir,
		CorpusDir:     a.Config.CorpusDir,
		Logger:        a.Logger,
	})
}

// QueryPipeline loads the persisted index and builds the online query
// pipeline over it.
func (a *App) QueryPipeline() (*query.Pipeline, error) {
	idx, err := index.Load(
		a.Config.VectorDir,
		a.Config.EmbedderModel,
		index.NewEmbeddingFunc(a.Embedder, nil),
		a.Logger,
	)
	if err != nil {
		return nil, err
	}

	return query.New(query.Config{
		Retriever: idx,
		Generator: &genkitGenerator{g: a.Genkit, model: a.Config.FullModelName()},
		TopK:      a.Config.RetrievalK,
		Logger:    a.Logger,
	})
}

// SessionManager builds a session manager over a freshly loaded query
// pipeline.
func (a *App) SessionManager() (*session.Manager, error) {
	pipeline, err := a.QueryPipeline()
	if err != nil {
		return nil, err
	}
	return session.NewManager(pipeline, a.Logger), nil
}

// genkitGenerator adapts genkit.Generate to the query pipeline's Generator
// interface.
type genkitGenerator struct {
	g     *genkit.Genkit
	model string
}

func (gg *genkitGenerator) Generate(ctx context.Context, system, prompt string, onToken func(context.Context, string) error) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onToken(ctx, chunk.Text())
		}),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
