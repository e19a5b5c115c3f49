// Package index implements the persisted vector index over embedded chunks.
//
// The index is an embedded chromem-go collection stored under a directory the
// caller controls, plus a manifest recording the embedding model identifier
// and vector dimension. The manifest is what makes a stale index detectable:
// an index built in one embedding space queried in another returns nonsense
// (or errors) with no other signal, so Load fails fast on a model mismatch.
//
// Lifecycle: built once per ingestion run into a staging directory, swapped
// into place atomically, then loaded read-only by any number of query
// pipelines. The query path never mutates the index.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	chromem "github.com/philippgille/chromem-go"
)

var (
	// ErrEmbedding indicates the embedding provider rejected an input or
	// failed permanently. During ingestion this aborts the whole build; a
	// partially-indexed corpus must never be persisted.
	ErrEmbedding = errors.New("embedding failed")

	// ErrVersionMismatch indicates the persisted index is incompatible with
	// the configured embedding model. Fatal at load.
	ErrVersionMismatch = errors.New("index version mismatch")

	// ErrInvalidTopK indicates a retrieval width below 1.
	ErrInvalidTopK = errors.New("retrieval k must be at least 1")

	// ErrNotFound indicates no index exists at the given directory.
	ErrNotFound = errors.New("index not found")

	// ErrLocked indicates another ingestion run holds the writer lock.
	ErrLocked = errors.New("index is locked by another writer")
)

const (
	collectionName = "chunks"
	manifestFile   = "manifest.json"
	storeDir       = "store"
)

// Metadata keys attached to every stored chunk.
const (
	MetaSourceID  = "source_id"
	MetaReference = "reference"
	MetaOffset    = "offset"
)

// Manifest describes a persisted index. Stored as manifest.json next to the
// vector data.
type Manifest struct {
	EmbedderModel string    `json:"embedder_model"`
	Dimension     int       `json:"dimension"`
	ChunkSize     int       `json:"chunk_size"`
	ChunkOverlap  int       `json:"chunk_overlap"`
	Documents     int       `json:"documents"`
	Chunks        int       `json:"chunks"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entry is one chunk to be embedded and stored.
type Entry struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Result is one retrieved chunk with its similarity score, best match first
// in the slice returned by Search.
type Result struct {
	Text       string
	Metadata   map[string]string
	Similarity float32
}

// Index is a read-only handle on a persisted vector index. Safe for
// concurrent use: the underlying collection is immutable after load.
type Index struct {
	collection *chromem.Collection
	embed      chromem.EmbeddingFunc
	manifest   Manifest
	logger     *slog.Logger
}

// BuildParams bundles the inputs to Build.
type BuildParams struct {
	Dir           string // final index directory
	EmbedderModel string // recorded in the manifest
	ChunkSize     int
	ChunkOverlap  int
	Documents     int // source document count, recorded for operators
	Entries       []Entry
	Embed         chromem.EmbeddingFunc
	Logger        *slog.Logger
}

// Build embeds every entry and persists a fresh index at params.Dir,
// replacing any previous index only after the new one is complete.
//
// All-or-nothing: the build happens in a staging directory; any failure
// (including a single rejected embedding) leaves the previous index as the
// last valid state. The directory lock enforces the single-writer contract.
func Build(ctx context.Context, params BuildParams) (*Manifest, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(params.Dir), 0o750); err != nil {
		return nil, fmt.Errorf("creating index parent directory: %w", err)
	}

	// The lock lives next to the index directory, not inside it, because the
	// directory itself is replaced on success.
	lock := flock.New(params.Dir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, params.Dir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("releasing index lock", "error", err)
		}
	}()

	staging := params.Dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	// Track the vector dimension as a side effect of embedding; the provider
	// is the only authority on it.
	var dimension atomic.Int64
	embed := guardedEmbed(params.Embed, &dimension)

	db, err := chromem.NewPersistentDB(filepath.Join(staging, storeDir), false)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	collection, err := db.CreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	docs := make([]chromem.Document, len(params.Entries))
	for i, e := range params.Entries {
		docs[i] = chromem.Document{
			ID:       e.ID,
			Content:  e.Text,
			Metadata: e.Metadata,
		}
	}

	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
	}

	manifest := Manifest{
		EmbedderModel: params.EmbedderModel,
		Dimension:     int(dimension.Load()),
		ChunkSize:     params.ChunkSize,
		ChunkOverlap:  params.ChunkOverlap,
		Documents:     params.Documents,
		Chunks:        len(params.Entries),
		CreatedAt:     time.Now().UTC(),
	}
	if err := writeManifest(filepath.Join(staging, manifestFile), manifest); err != nil {
		return nil, err
	}

	if err := swapDirs(staging, params.Dir); err != nil {
		return nil, err
	}

	logger.Info("vector index persisted",
		"dir", params.Dir,
		"documents", manifest.Documents,
		"chunks", manifest.Chunks,
		"dimension", manifest.Dimension,
		"embedder_model", manifest.EmbedderModel)

	return &manifest, nil
}

// Load opens a persisted index read-only and verifies it against the
// configured embedding model. A mismatch is ErrVersionMismatch: the caller
// must re-ingest rather than query across embedding spaces.
func Load(dir, embedderModel string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manifest, err := readManifest(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (run ingest first)", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("reading index manifest: %w", err)
	}

	if manifest.EmbedderModel != embedderModel {
		return nil, fmt.Errorf("%w: index built with embedder %q, configured %q",
			ErrVersionMismatch, manifest.EmbedderModel, embedderModel)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, storeDir), false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	collection := db.GetCollection(collectionName, embed)
	if collection == nil {
		return nil, fmt.Errorf("index at %s has no %q collection", dir, collectionName)
	}

	logger.Debug("vector index loaded",
		"dir", dir,
		"chunks", collection.Count(),
		"embedder_model", manifest.EmbedderModel)

	return &Index{
		collection: collection,
		embed:      embed,
		manifest:   manifest,
		logger:     logger,
	}, nil
}

// Manifest returns a copy of the loaded index's manifest.
func (i *Index) Manifest() Manifest { return i.manifest }

// Count returns the number of stored chunks.
func (i *Index) Count() int { return i.collection.Count() }

// Search embeds the query in the index's embedding space and returns the k
// nearest chunks by cosine similarity, best match first. When the index holds
// fewer than k chunks, all of them are returned; that is not an error.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}

	count := i.collection.Count()
	if count == 0 {
		return nil, nil
	}

	vector, err := i.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrEmbedding, err)
	}
	if i.manifest.Dimension != 0 && len(vector) != i.manifest.Dimension {
		return nil, fmt.Errorf("%w: query vector dimension %d, index dimension %d",
			ErrVersionMismatch, len(vector), i.manifest.Dimension)
	}

	hits, err := i.collection.QueryEmbedding(ctx, vector, min(k, count), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, len(hits))
	for j, hit := range hits {
		results[j] = Result{
			Text:       hit.Content,
			Metadata:   hit.Metadata,
			Similarity: hit.Similarity,
		}
	}
	return results, nil
}

// guardedEmbed wraps an embedding function with the build-time invariants:
// empty input is a hard error (a chunk that embeds to nothing would silently
// vanish from retrieval), and every vector in one index has the same
// dimension.
func guardedEmbed(embed chromem.EmbeddingFunc, dimension *atomic.Int64) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: empty input", ErrEmbedding)
		}
		vector, err := embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		if !dimension.CompareAndSwap(0, int64(len(vector))) {
			if got := dimension.Load(); got != int64(len(vector)) {
				return nil, fmt.Errorf("%w: provider returned dimension %d after %d",
					ErrEmbedding, len(vector), got)
			}
		}
		return vector, nil
	}
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// swapDirs replaces dst with src, keeping dst recoverable until the rename
// has succeeded.
func swapDirs(src, dst string) error {
	old := dst + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("clearing previous index backup: %w", err)
	}

	replaced := false
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("moving previous index aside: %w", err)
		}
		replaced = true
	}

	if err := os.Rename(src, dst); err != nil {
		if replaced {
			// Restore the previous index; the new one stays in staging.
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("installing new index: %w", err)
	}

	if replaced {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("removing previous index: %w", err)
		}
	}
	return nil
}
