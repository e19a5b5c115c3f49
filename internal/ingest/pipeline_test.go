package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/decilog/decilog/internal/chunker"
	"github.com/decilog/decilog/internal/index"
	"github.com/decilog/decilog/internal/log"
	"github.com/decilog/decilog/internal/notion"
	"github.com/decilog/decilog/internal/testutil"
)

// fakeSource serves a fixed set of pages and their blocks.
type fakeSource struct {
	pages    []notion.Page
	blocks   map[string][]notion.Block
	queryErr error
	blockErr map[string]error
}

func (f *fakeSource) QueryDatabase(_ context.Context, _ string) ([]notion.Page, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.pages, nil
}

func (f *fakeSource) GetBlockChildren(_ context.Context, blockID string) ([]notion.Block, error) {
	if err := f.blockErr[blockID]; err != nil {
		return nil, err
	}
	return f.blocks[blockID], nil
}

func newFakeSource(n int) *fakeSource {
	f := &fakeSource{blocks: make(map[string][]notion.Block), blockErr: make(map[string]error)}
	for i := range n {
		id := fmt.Sprintf("page-%d", i)
		f.pages = append(f.pages, titledPage(id, fmt.Sprintf("Decision %d", i)))
		f.blocks[id] = []notion.Block{
			paragraph(fmt.Sprintf("We decided on option %d after long debate.", i)),
			paragraph(fmt.Sprintf("The alternative %d was rejected.", i)),
		}
	}
	return f
}

func testConfig(t *testing.T, source Source, vectorDir string) Config {
	t.Helper()
	splitter, err := chunker.New(64, 0)
	if err != nil {
		t.Fatalf("chunker.New failed: %v", err)
	}
	return Config{
		Source:        source,
		DatabaseID:    "db-1",
		Splitter:      splitter,
		Embed:         testutil.HashEmbedding(16),
		EmbedderModel: "test-embedder-001",
		VectorDir:     vectorDir,
		Logger:        log.NewNop(),
	}
}

func runPipeline(t *testing.T, cfg Config) *index.Manifest {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	manifest, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.State() != StatePersisted {
		t.Errorf("terminal state = %s, want persisted", p.State())
	}
	return manifest
}

// searchTexts loads the persisted index and returns all stored chunk texts.
func searchTexts(t *testing.T, cfg Config) []string {
	t.Helper()
	idx, err := index.Load(cfg.VectorDir, cfg.EmbedderModel, cfg.Embed, log.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	results, err := idx.Search(context.Background(), "decision", idx.Count())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	sort.Strings(texts)
	return texts
}

func TestPipeline_Run(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	cfg := testConfig(t, newFakeSource(3), dir)

	manifest := runPipeline(t, cfg)
	if manifest.Documents != 3 {
		t.Errorf("manifest.Documents = %d, want 3", manifest.Documents)
	}
	if manifest.Chunks == 0 {
		t.Error("manifest.Chunks = 0, want > 0")
	}
	if manifest.EmbedderModel != cfg.EmbedderModel {
		t.Errorf("manifest.EmbedderModel = %q, want %q", manifest.EmbedderModel, cfg.EmbedderModel)
	}

	// Every chunk carries provenance metadata.
	idx, err := index.Load(dir, cfg.EmbedderModel, cfg.Embed, log.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	results, err := idx.Search(context.Background(), "option", idx.Count())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Metadata[index.MetaSourceID] == "" {
			t.Errorf("chunk missing source ID metadata: %q", r.Text)
		}
		if r.Metadata[index.MetaReference] == "" {
			t.Errorf("chunk missing reference metadata: %q", r.Text)
		}
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	source := newFakeSource(3)

	dir := filepath.Join(t.TempDir(), "index")
	cfg := testConfig(t, source, dir)
	runPipeline(t, cfg)
	first := searchTexts(t, cfg)

	// Same source, same directory: the rebuilt index holds the same chunks.
	runPipeline(t, cfg)
	second := searchTexts(t, cfg)

	if len(first) == 0 {
		t.Fatal("no chunks indexed")
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs across runs:\n  %q\n  %q", i, first[i], second[i])
		}
	}
}

func TestPipeline_EmptySource(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	cfg := testConfig(t, newFakeSource(0), dir)

	manifest := runPipeline(t, cfg)
	if manifest.Documents != 0 || manifest.Chunks != 0 {
		t.Errorf("manifest = %d docs, %d chunks, want 0, 0", manifest.Documents, manifest.Chunks)
	}
}

func TestPipeline_FetchFailureAborts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	source := newFakeSource(2)
	source.queryErr = fmt.Errorf("%w: boom", notion.ErrFetch)
	cfg := testConfig(t, source, dir)

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, notion.ErrFetch) {
		t.Fatalf("Run error = %v, want ErrFetch", err)
	}
	if p.State() != StateFailed {
		t.Errorf("state = %s, want failed", p.State())
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("index directory exists after failed run")
	}
}

func TestPipeline_ExtractionFailureAbortsAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	source := newFakeSource(3)
	// One bad record out of three fails the whole batch.
	source.pages[1].Properties = nil
	cfg := testConfig(t, source, dir)

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, ErrExtraction) {
		t.Fatalf("Run error = %v, want ErrExtraction", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("index directory exists after failed run")
	}
}

func TestPipeline_BlockFetchFailureAborts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	source := newFakeSource(3)
	source.blockErr["page-2"] = fmt.Errorf("%w: blocks gone", notion.ErrFetch)
	cfg := testConfig(t, source, dir)

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, notion.ErrFetch) {
		t.Fatalf("Run error = %v, want ErrFetch", err)
	}
}

func TestPipeline_FailureKeepsPreviousIndex(t *testing.T) {
	source := newFakeSource(2)
	dir := filepath.Join(t.TempDir(), "index")
	cfg := testConfig(t, source, dir)
	runPipeline(t, cfg)
	before := searchTexts(t, cfg)

	source.queryErr = errors.New("source offline")
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected Run to fail")
	}

	after := searchTexts(t, cfg)
	if len(before) != len(after) {
		t.Fatalf("previous index changed after failed run: %d vs %d chunks", len(before), len(after))
	}
}

func TestPipeline_MultibyteDocuments(t *testing.T) {
	source := &fakeSource{blocks: make(map[string][]notion.Block), blockErr: make(map[string]error)}
	source.pages = append(source.pages, titledPage("page-jp", "データベース移行の決定"))
	source.blocks["page-jp"] = []notion.Block{
		paragraph(strings.Repeat("移行の背景と判断基準について詳細に記録する。", 20)),
		paragraph("最終的に PostgreSQL を採用した。"),
	}

	dir := filepath.Join(t.TempDir(), "index")
	cfg := testConfig(t, source, dir)

	manifest := runPipeline(t, cfg)
	if manifest.Chunks < 2 {
		t.Fatalf("manifest.Chunks = %d, want several chunks from the long document", manifest.Chunks)
	}

	// Every persisted chunk must be intact UTF-8 and at most chunk-size
	// characters; a byte-based boundary would break both.
	idx, err := index.Load(dir, cfg.EmbedderModel, cfg.Embed, log.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	results, err := idx.Search(context.Background(), "移行", idx.Count())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if !utf8.ValidString(r.Text) {
			t.Errorf("stored chunk is not valid UTF-8: %q", r.Text)
		}
		if n := utf8.RuneCountInString(r.Text); n > cfg.Splitter.Size() {
			t.Errorf("stored chunk has %d characters > size %d", n, cfg.Splitter.Size())
		}
	}
}

func TestPipeline_CorpusDump(t *testing.T) {
	corpusDir := filepath.Join(t.TempDir(), "corpus")
	cfg := testConfig(t, newFakeSource(3), filepath.Join(t.TempDir(), "index"))
	cfg.CorpusDir = corpusDir

	runPipeline(t, cfg)

	for i := 1; i <= 3; i++ {
		path := filepath.Join(corpusDir, fmt.Sprintf("%d.txt", i))
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading corpus file %s: %v", path, err)
		}
		if len(data) == 0 {
			t.Errorf("corpus file %s is empty", path)
		}
	}
	entries, err := os.ReadDir(corpusDir)
	if err != nil {
		t.Fatalf("reading corpus dir: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("corpus dir holds %d files, want 3", len(entries))
	}
}

func TestNew_Validation(t *testing.T) {
	splitter, _ := chunker.New(64, 0)
	base := Config{
		Source:        newFakeSource(1),
		DatabaseID:    "db",
		Splitter:      splitter,
		Embed:         testutil.HashEmbedding(8),
		EmbedderModel: "m",
		VectorDir:     "dir",
	}

	mutations := map[string]func(*Config){
		"nil source":        func(c *Config) { c.Source = nil },
		"empty database ID": func(c *Config) { c.DatabaseID = "" },
		"nil splitter":      func(c *Config) { c.Splitter = nil },
		"nil embed":         func(c *Config) { c.Embed = nil },
		"empty vector dir":  func(c *Config) { c.VectorDir = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{
		StateFetching:   "fetching",
		StateExtracting: "extracting",
		StateChunking:   "chunking",
		StateEmbedding:  "embedding",
		StatePersisted:  "persisted",
		StateFailed:     "failed",
	}
	for state, name := range want {
		if got := state.String(); got != name {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, name)
		}
	}
}
