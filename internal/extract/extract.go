// Package extract turns uploaded files into plain text for chunking.
// Supported formats are PDF, DOCX and UTF-8 text (.txt, .md).
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// supported lists the accepted file extensions, lower-case with the leading dot.
var supported = []string{".pdf", ".docx", ".txt", ".md"}

// Extensions returns the accepted file extensions.
func Extensions() []string {
	return slices.Clone(supported)
}

// Supported reports whether ext (with or without the leading dot, any case)
// names a format Extract can read.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return slices.Contains(supported, ext)
}

// Extract reads the file at path and returns its text content.
// The format is chosen by extension. An unknown extension fails with
// apperr.UnsupportedFormat; an unreadable or unparsable file fails with
// apperr.ExtractionFailed.
func Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return "", apperr.New(apperr.KindUnsupportedFormat, "extract.Extract",
			"unsupported file type %q (allowed: %s)", ext, strings.Join(supported, ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.Extract", err, "reading %s", filepath.Base(path))
	}
	return Bytes(ext, data)
}

// Bytes extracts text from an in-memory file of the given extension.
func Bytes(ext string, data []byte) (string, error) {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	case ".txt", ".md":
		if !utf8.Valid(data) {
			return "", apperr.New(apperr.KindExtractionFailed, "extract.Bytes", "%s file is not valid UTF-8", ext)
		}
		return string(data), nil
	default:
		return "", apperr.New(apperr.KindUnsupportedFormat, "extract.Bytes",
			"unsupported file type %q (allowed: %s)", ext, strings.Join(supported, ", "))
	}
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", apperr.New(apperr.KindExtractionFailed, "extract.pdf", "malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.pdf", err, "opening pdf")
	}

	// Page-by-page so one page can be separated from the next by a paragraph
	// break, which the chunker prefers as a cut point.
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.pdf", perr, "reading page %d", i)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), nil
}

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.docx", err, "opening docx archive")
	}

	var doc *zip.File
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, "word/document.xml") {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", apperr.New(apperr.KindExtractionFailed, "extract.docx", "archive has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.docx", err, "opening word/document.xml")
	}
	defer rc.Close()

	text, err := docxXMLText(rc)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtractionFailed, "extract.docx", err, "parsing word/document.xml")
	}
	return text, nil
}

// docxXMLText walks WordprocessingML, emitting run text and turning
// paragraphs into blank-line separated blocks.
func docxXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("xml token: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("decoding text run: %w", err)
				}
				b.WriteString(s)
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				b.WriteString("\n\n")
			case "tc":
				b.WriteByte('\t')
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
