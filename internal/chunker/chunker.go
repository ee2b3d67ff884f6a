// Package chunker splits extracted document text into overlapping passages.
//
// Splitting is hierarchical: each chunk ends on the largest boundary that
// fits (paragraph, then line, then sentence, then word) and only falls back
// to a hard cut when no boundary exists in the window. Consecutive chunks
// share exactly Overlap characters. Lengths are measured in runes.
package chunker

import (
	"strings"
	"unicode"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters carried into the next chunk.
	DefaultChunkOverlap = 200
)

// defaultSeparators lists break points from the largest semantic unit to the smallest.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Chunk is a contiguous span of a document's extracted text.
type Chunk struct {
	// Content is the chunk text.
	Content string
	// Source is the name of the document the chunk came from.
	Source string
	// Position is the zero-based ordinal of the chunk within the document.
	Position int
	// Offset is the rune offset of Content within the source text.
	Offset int
}

// Splitter splits text into chunks of at most Size characters.
type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

// New constructs a Splitter. It fails with a validation error unless
// 0 <= overlap < size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, apperr.New(apperr.KindValidation, "chunker.New", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, apperr.New(apperr.KindValidation, "chunker.New", "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, apperr.New(apperr.KindValidation, "chunker.New",
			"chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}

	seps := make([][]rune, len(defaultSeparators))
	for i, s := range defaultSeparators {
		seps[i] = []rune(s)
	}
	return &Splitter{size: size, overlap: overlap, separators: seps}, nil
}

// Size returns the configured maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap between consecutive chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split divides text into ordered chunks attributed to source. Chunks that
// contain only whitespace are discarded. Empty text yields no chunks, which
// callers must treat as an ingestion failure.
func (s *Splitter) Split(source, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	emit := func(start, end int) {
		content := string(runes[start:end])
		if strings.TrimFunc(content, unicode.IsSpace) == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:  content,
			Source:   source,
			Position: len(chunks),
			Offset:   start,
		})
	}

	start := 0
	for start < n {
		if start+s.size >= n {
			emit(start, n)
			break
		}
		// The cut must leave more than overlap characters in the chunk so the
		// next chunk starts strictly after this one.
		cut := s.breakPoint(runes, start+s.overlap+1, start+s.size)
		emit(start, cut)
		start = cut - s.overlap
	}

	return chunks
}

// breakPoint returns the cut index in [lo, hi] that ends on the largest
// available separator, or hi when the window contains none.
func (s *Splitter) breakPoint(runes []rune, lo, hi int) int {
	for _, sep := range s.separators {
		if cut := lastCut(runes, sep, lo, hi); cut > 0 {
			return cut
		}
	}
	return hi
}

// lastCut finds the last occurrence of sep whose end falls in [lo, hi] and
// returns the index just past it, or -1.
func lastCut(runes, sep []rune, lo, hi int) int {
	for end := hi; end >= lo; end-- {
		begin := end - len(sep)
		if begin < 0 {
			return -1
		}
		if equalRunes(runes[begin:end], sep) {
			return end
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
