// Package extractor pulls the plain text layer out of uploaded PDFs.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNotPDF is returned for uploads that are not PDF files.
var ErrNotPDF = errors.New("file is not a PDF")

var pdfMagic = []byte("%PDF-")

type ExtractorConfig struct {
	// MaxPages caps how many pages are read. Zero reads every page.
	MaxPages int
}

type Extractor struct {
	config ExtractorConfig
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	return &Extractor{config: config}
}

func New() *Extractor {
	return NewWithConfig(ExtractorConfig{})
}

// IsPDF accepts a file when its name or declared content type says PDF and
// its first bytes carry the PDF header.
func IsPDF(filename, contentType string, head []byte) bool {
	declared := strings.EqualFold(filepath.Ext(filename), ".pdf") ||
		strings.HasPrefix(strings.ToLower(contentType), "application/pdf")
	return declared && bytes.HasPrefix(head, pdfMagic)
}

// ExtractBytes extracts text from an in-memory PDF.
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte) (string, error) {
	return e.ExtractText(ctx, bytes.NewReader(data), int64(len(data)))
}

// Pages is the text of a PDF and how much of it was read.
type Pages struct {
	Text  string
	Read  int
	Total int
}

// Truncated reports whether MaxPages stopped the read early.
func (p Pages) Truncated() bool {
	return p.Read < p.Total
}

// ExtractText returns the text of every page, pages separated by a newline.
func (e *Extractor) ExtractText(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	pages, err := e.ExtractPages(ctx, r, size)
	if err != nil {
		return "", err
	}
	return pages.Text, nil
}

// ExtractPages is ExtractText plus the page counts.
func (e *Extractor) ExtractPages(ctx context.Context, r io.ReaderAt, size int64) (result Pages, err error) {
	head := make([]byte, len(pdfMagic))
	if _, err := r.ReadAt(head, 0); err != nil || !bytes.Equal(head, pdfMagic) {
		return Pages{}, ErrNotPDF
	}

	// The parser panics on some malformed files.
	defer func() {
		if rec := recover(); rec != nil {
			result, err = Pages{}, fmt.Errorf("failed to parse PDF: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return Pages{}, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	total := reader.NumPage()
	pageCount := total
	if e.config.MaxPages > 0 && pageCount > e.config.MaxPages {
		pageCount = e.config.MaxPages
	}

	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return Pages{}, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			return Pages{}, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		pages = append(pages, content)
	}

	return Pages{Text: strings.Join(pages, "\n"), Read: pageCount, Total: total}, nil
}
