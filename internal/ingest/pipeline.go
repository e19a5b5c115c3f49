// Package ingest implements the offline ingestion pipeline: Notion database
// → text extraction → chunking → embedding → persisted vector index.
//
// The pipeline is a sequential state machine. Any stage failure aborts the
// whole run; nothing is persisted partially, so the previous index (if any)
// remains the last valid state. Re-running with an unchanged source replaces
// the index with a content-equal one.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	"github.com/decilog/decilog/internal/chunker"
	"github.com/decilog/decilog/internal/index"
	"github.com/decilog/decilog/internal/notion"
)

// extractConcurrency bounds the per-record block fetches running in
// parallel. Records are independent; the fan-out is a pure optimization and
// preserves all-or-nothing semantics through the errgroup.
const extractConcurrency = 4

// State identifies the pipeline stage, for logging and failure reports.
type State int

const (
	StateFetching State = iota
	StateExtracting
	StateChunking
	StateEmbedding
	StatePersisted
	StateFailed
)

var stateNames = map[State]string{
	StateFetching:   "fetching",
	StateExtracting: "extracting",
	StateChunking:   "chunking",
	StateEmbedding:  "embedding",
	StatePersisted:  "persisted",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Source is the pipeline's view of the document source. *notion.Client
// satisfies it; tests substitute fakes.
type Source interface {
	QueryDatabase(ctx context.Context, databaseID string) ([]notion.Page, error)
	GetBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
}

// Config contains all required parameters for the ingestion pipeline.
type Config struct {
	Source        Source
	DatabaseID    string
	Splitter      *chunker.Splitter
	Embed         chromem.EmbeddingFunc
	EmbedderModel string
	VectorDir     string
	CorpusDir     string // when set, extracted texts are dumped here as 1.txt..N.txt
	Logger        *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Source == nil {
		return fmt.Errorf("source is required")
	}
	if cfg.DatabaseID == "" {
		return fmt.Errorf("database ID is required")
	}
	if cfg.Splitter == nil {
		return fmt.Errorf("splitter is required")
	}
	if cfg.Embed == nil {
		return fmt.Errorf("embedding function is required")
	}
	if cfg.VectorDir == "" {
		return fmt.Errorf("vector directory is required")
	}
	return nil
}

// Pipeline orchestrates one ingestion run. Create with New, run once with
// Run; a Pipeline is not reusable across runs.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	state  State
}

// New creates an ingestion pipeline.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: logger, state: StateFetching}, nil
}

// State returns the pipeline's current (or terminal) stage.
func (p *Pipeline) State() State { return p.state }

// Run executes the full pipeline and returns the manifest of the persisted
// index. On error the pipeline is in StateFailed and nothing was persisted.
func (p *Pipeline) Run(ctx context.Context) (*index.Manifest, error) {
	manifest, err := p.run(ctx)
	if err != nil {
		p.logger.Error("ingestion run failed",
			"stage", p.state.String(),
			"error", err)
		p.state = StateFailed
		return nil, err
	}
	p.state = StatePersisted
	return manifest, nil
}

func (p *Pipeline) run(ctx context.Context) (*index.Manifest, error) {
	p.transition(StateFetching)
	pages, err := p.cfg.Source.QueryDatabase(ctx, p.cfg.DatabaseID)
	if err != nil {
		return nil, err
	}
	// Zero records with no error is a complete (empty) source, not a failure.
	p.logger.Info("fetched source records", "count", len(pages))

	p.transition(StateExtracting)
	docs, err := p.extractAll(ctx, pages)
	if err != nil {
		return nil, err
	}

	if p.cfg.CorpusDir != "" {
		if err := p.dumpCorpus(docs); err != nil {
			return nil, err
		}
	}

	p.transition(StateChunking)
	var entries []index.Entry
	for _, doc := range docs {
		for chunk := range p.cfg.Splitter.Split(chunker.Document{Text: doc.Text, SourceID: doc.SourceID}) {
			entries = append(entries, index.Entry{
				ID:   fmt.Sprintf("%s:%d", chunk.SourceID, chunk.Offset),
				Text: chunk.Text,
				Metadata: map[string]string{
					index.MetaSourceID:  chunk.SourceID,
					index.MetaReference: doc.Reference,
					index.MetaOffset:    strconv.Itoa(chunk.Offset),
				},
			})
		}
	}
	p.logger.Info("chunked documents",
		"documents", len(docs),
		"chunks", len(entries),
		"chunk_size", p.cfg.Splitter.Size(),
		"chunk_overlap", p.cfg.Splitter.Overlap())

	p.transition(StateEmbedding)
	return index.Build(ctx, index.BuildParams{
		Dir:           p.cfg.VectorDir,
		EmbedderModel: p.cfg.EmbedderModel,
		ChunkSize:     p.cfg.Splitter.Size(),
		ChunkOverlap:  p.cfg.Splitter.Overlap(),
		Documents:     len(docs),
		Entries:       entries,
		Embed:         p.cfg.Embed,
		Logger:        p.logger,
	})
}

// extractAll fetches each page's content blocks and extracts its text.
// Fan-out is bounded; results keep source order so re-runs are
// deterministic. One bad record fails the batch.
func (p *Pipeline) extractAll(ctx context.Context, pages []notion.Page) ([]Document, error) {
	docs := make([]Document, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			blocks, err := p.cfg.Source.GetBlockChildren(gctx, page.ID)
			if err != nil {
				return err
			}
			doc, err := extractDocument(page, blocks)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info("extracted documents", "count", len(docs))
	return docs, nil
}

// dumpCorpus writes the extracted texts as numbered files so an operator can
// inspect exactly what went into the index.
func (p *Pipeline) dumpCorpus(docs []Document) error {
	if err := os.MkdirAll(p.cfg.CorpusDir, 0o750); err != nil {
		return fmt.Errorf("creating corpus directory: %w", err)
	}
	for i, doc := range docs {
		path := filepath.Join(p.cfg.CorpusDir, fmt.Sprintf("%d.txt", i+1))
		if err := os.WriteFile(path, []byte(doc.Text), 0o640); err != nil {
			return fmt.Errorf("writing corpus file %s: %w", path, err)
		}
	}
	p.logger.Info("corpus written", "dir", p.cfg.CorpusDir, "files", len(docs))
	return nil
}

func (p *Pipeline) transition(s State) {
	p.logger.Debug("ingestion stage", "from", p.state.String(), "to", s.String())
	p.state = s
}
