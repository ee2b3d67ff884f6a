package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// sampleText builds prose with paragraphs, sentences and words of varying
// length so every separator level is exercised.
func sampleText() string {
	var b strings.Builder
	for p := range 12 {
		for s := range 5 {
			b.WriteString("Photosynthesis converts light energy into chemical energy")
			for w := range (p + s) % 7 {
				b.WriteString(" stage")
				if w%3 == 0 {
					b.WriteString("s")
				}
			}
			b.WriteString(". ")
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func TestNew_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size, overlap int
	}{
		{100, 100},
		{100, 150},
		{1, 1},
		{0, 0},
		{10, -1},
	}
	for _, tc := range cases {
		_, err := New(tc.size, tc.overlap)
		if !errors.Is(err, apperr.Validation) {
			t.Errorf("New(%d, %d): want validation error, got %v", tc.size, tc.overlap, err)
		}
	}
}

func TestSplit_SizeAndOverlapInvariants(t *testing.T) {
	t.Parallel()

	text := sampleText()
	cases := []struct {
		size, overlap int
	}{
		{1000, 200},
		{200, 50},
		{120, 0},
		{64, 63},
		{37, 5},
		{10, 3},
	}

	for _, tc := range cases {
		s, err := New(tc.size, tc.overlap)
		if err != nil {
			t.Fatalf("New(%d, %d): %v", tc.size, tc.overlap, err)
		}
		chunks := s.Split("bio", text)
		if len(chunks) == 0 {
			t.Fatalf("size=%d overlap=%d: expected chunks", tc.size, tc.overlap)
		}

		for i, c := range chunks {
			if n := utf8.RuneCountInString(c.Content); n > tc.size {
				t.Errorf("size=%d overlap=%d: chunk %d has %d runes", tc.size, tc.overlap, i, n)
			}
			if c.Position != i {
				t.Errorf("chunk %d: position %d", i, c.Position)
			}
			if c.Source != "bio" {
				t.Errorf("chunk %d: source %q", i, c.Source)
			}
			if i == 0 {
				continue
			}
			prev := []rune(chunks[i-1].Content)
			cur := []rune(c.Content)
			tail := string(prev[len(prev)-tc.overlap:])
			head := string(cur[:tc.overlap])
			if tail != head {
				t.Errorf("size=%d overlap=%d: chunk %d does not share %d boundary runes: %q vs %q",
					tc.size, tc.overlap, i, tc.overlap, tail, head)
			}
			if c.Offset != chunks[i-1].Offset+len(prev)-tc.overlap {
				t.Errorf("size=%d overlap=%d: chunk %d offset %d not contiguous", tc.size, tc.overlap, i, c.Offset)
			}
		}

		last := chunks[len(chunks)-1]
		if last.Offset+utf8.RuneCountInString(last.Content) != utf8.RuneCountInString(text) {
			t.Errorf("size=%d overlap=%d: last chunk does not reach end of text", tc.size, tc.overlap)
		}
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("a", 30)
	second := strings.Repeat("b", 30)
	s, err := New(40, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chunks := s.Split("doc", first+"\n\n"+second)
	if len(chunks) < 2 {
		t.Fatalf("want at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != first+"\n\n" {
		t.Errorf("first chunk should end at the paragraph break, got %q", chunks[0].Content)
	}
}

func TestSplit_HardCutWithoutSeparators(t *testing.T) {
	t.Parallel()

	s, err := New(10, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks := s.Split("doc", strings.Repeat("x", 25))

	want := []int{10, 10, 9}
	if len(chunks) != len(want) {
		t.Fatalf("want %d chunks, got %d", len(want), len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) != want[i] {
			t.Errorf("chunk %d: want %d runes, got %d", i, want[i], len(c.Content))
		}
	}
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	t.Parallel()

	s, err := New(DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, text := range []string{"", "   ", "\n\n\t \n"} {
		if got := s.Split("doc", text); len(got) != 0 {
			t.Errorf("Split(%q): want 0 chunks, got %d", text, len(got))
		}
	}
}

func TestSplit_MultibyteRunes(t *testing.T) {
	t.Parallel()

	s, err := New(8, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks := s.Split("doc", strings.Repeat("光合作用", 6))
	for i, c := range chunks {
		if !utf8.ValidString(c.Content) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c.Content); n > 8 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
}
