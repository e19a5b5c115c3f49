package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/decilog/decilog/internal/notion"
)

// ErrExtraction indicates a source record could not be turned into a
// document. This aborts the whole run: a known-bad record silently vanishing
// from the corpus is worse than a failed ingestion, and a chunk without
// provenance cannot satisfy the citation contract.
var ErrExtraction = errors.New("extraction failed")

// Document is the extracted text of one source page, ready for chunking.
// Text always contains at least the title and reference sentences, so it is
// never empty.
type Document struct {
	SourceID  string
	Title     string
	Reference string
	Text      string
}

// extractDocument flattens a page and its content blocks into a single
// newline-free string. Per block, the first non-empty text run of the first
// recognized block type wins; heading_1 and unrecognized types contribute
// nothing. The title and reference sentences lead the text so retrieval
// always has provenance to cite.
func extractDocument(page notion.Page, blocks []notion.Block) (Document, error) {
	if page.ID == "" {
		return Document{}, fmt.Errorf("%w: page has no ID", ErrExtraction)
	}

	title := page.Title()
	if title == "" {
		return Document{}, fmt.Errorf("%w: page %s has no title", ErrExtraction, page.ID)
	}

	sourceID := strings.ReplaceAll(page.ID, "-", "")
	reference := page.URL
	if reference == "" {
		reference = "https://www.notion.so/" + sourceID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The title is %s. The reference link is %s. ", title, reference)

	for _, block := range blocks {
		run, ok := block.FirstRun()
		if !ok || run == "" {
			continue
		}
		b.WriteString(run)
		b.WriteString(" ")
	}

	// Newlines inside rich text would otherwise leak into chunk boundaries
	// and prompts.
	text := strings.ReplaceAll(b.String(), "\n", "")

	return Document{
		SourceID:  sourceID,
		Title:     title,
		Reference: reference,
		Text:      text,
	}, nil
}
