package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// buildDOCX returns a minimal .docx archive whose body holds the given paragraphs.
func buildDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(xmlDoc)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestExtract_Text(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"notes.txt", "notes.MD"} {
		path := writeFile(t, name, []byte("Mitochondria produce ATP.\n\nCells divide."))
		got, err := Extract(path)
		if err != nil {
			t.Fatalf("Extract(%s): %v", name, err)
		}
		if !strings.Contains(got, "Mitochondria") {
			t.Errorf("Extract(%s): unexpected text %q", name, got)
		}
	}
}

func TestExtract_DOCXParagraphs(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "biology.docx", buildDOCX(t, "Photosynthesis happens in chloroplasts.", "Light reactions come first."))
	got, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Photosynthesis happens in chloroplasts.\n\nLight reactions come first."
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		data []byte
		want error
	}{
		{name: "unsupported extension", file: "slides.pptx", data: []byte("x"), want: apperr.UnsupportedFormat},
		{name: "invalid utf8 text", file: "bad.txt", data: []byte{0xff, 0xfe, 0xfd}, want: apperr.ExtractionFailed},
		{name: "corrupt docx", file: "bad.docx", data: []byte("not a zip"), want: apperr.ExtractionFailed},
		{name: "corrupt pdf", file: "bad.pdf", data: []byte("%PDF-garbage"), want: apperr.ExtractionFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Extract(writeFile(t, tc.file, tc.data))
			if !errors.Is(err, tc.want) {
				t.Errorf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestExtract_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Extract(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, apperr.ExtractionFailed) {
		t.Errorf("want extraction failure, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		".pdf":  true,
		"PDF":   true,
		".docx": true,
		".txt":  true,
		"md":    true,
		".doc":  false,
		"":      false,
	}
	for ext, want := range cases {
		if got := Supported(ext); got != want {
			t.Errorf("Supported(%q) = %v, want %v", ext, got, want)
		}
	}
}
