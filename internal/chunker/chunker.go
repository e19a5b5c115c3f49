// Package chunker splits extracted documents into bounded-length character
// segments: the atomic units stored in and retrieved from the vector index.
//
// Splitting is purely length-based. No sentence or regex awareness means the
// result is deterministic and locale-independent, and the reconstruction
// property holds exactly: concatenating the chunks with the declared overlap
// removed yields the original text.
package chunker

import (
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrInvalidSize indicates a non-positive chunk size.
	ErrInvalidSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap indicates the overlap is negative or not smaller than
	// the chunk size (which would make the window never advance).
	ErrInvalidOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")
)

// Chunk is one bounded-length segment of a source document.
type Chunk struct {
	Text     string // at most chunk size characters
	SourceID string // back-reference to the originating document
	Offset   int    // character (rune) position of Text within the document
}

// Document is the chunker's view of an extracted document.
type Document struct {
	Text     string
	SourceID string
}

// Splitter produces chunks of at most Size characters, with adjacent chunks
// sharing exactly Overlap characters. The zero value is not usable; call New.
type Splitter struct {
	size    int
	overlap int
}

// New validates the chunking parameters and returns a Splitter.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidOverlap, size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured chunk overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns a lazy, finite, restartable sequence of chunks covering the
// whole document. For a document of L characters it yields
// ceil(L / (size - overlap)) chunks; only the last may be shorter than size.
// Split has no side effects; iterating twice yields the same chunks.
//
// Windows are measured in runes, never bytes: the corpus is multibyte text,
// and a byte-positioned boundary would cut a rune in half and emit invalid
// UTF-8.
func (s *Splitter) Split(doc Document) iter.Seq[Chunk] {
	step := s.size - s.overlap
	return func(yield func(Chunk) bool) {
		runes := []rune(doc.Text)
		for start := 0; start < len(runes); start += step {
			end := min(start+s.size, len(runes))
			if !yield(Chunk{
				Text:     string(runes[start:end]),
				SourceID: doc.SourceID,
				Offset:   start,
			}) {
				return
			}
		}
	}
}

// Count returns the number of chunks Split will yield for a text of l
// characters (runes, not bytes).
func (s *Splitter) Count(l int) int {
	if l == 0 {
		return 0
	}
	step := s.size - s.overlap
	return (l + step - 1) / step
}
