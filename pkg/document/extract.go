package document

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/address"
)

// Input errors. Any of these fails an ingestion run immediately.
var (
	ErrEmptyDocument     = errors.New("document contains no text")
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrMalformedSource   = errors.New("source is not valid UTF-8 text")
)

// Options are the extraction parameters.
type Options struct {
	// PageLimit keeps only the first N pages. Zero means no limit.
	PageLimit int
}

// Extractor turns raw source bytes into page texts.
type Extractor interface {
	// Format names the source format, e.g. "text" or "html".
	Format() string
	// Version changes whenever extraction output would change for the same input.
	Version() string
	// Pages splits the source into page texts.
	Pages(ctx context.Context, data []byte) ([]string, error)
}

// TextExtractor handles plain text and markdown. Pages are separated by form
// feeds, which is how pdftotext marks page breaks.
type TextExtractor struct{}

func (TextExtractor) Format() string  { return "text" }
func (TextExtractor) Version() string { return "text/1" }

func (TextExtractor) Pages(_ context.Context, data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, ErrMalformedSource
	}
	text := normalizeNewlines(string(data))
	return strings.Split(text, "\f"), nil
}

// HTMLExtractor converts HTML guides to markdown so headings survive as
// structural boundaries.
type HTMLExtractor struct{}

func (HTMLExtractor) Format() string  { return "html" }
func (HTMLExtractor) Version() string { return "html/1" }

func (HTMLExtractor) Pages(_ context.Context, data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, ErrMalformedSource
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(data))
	if err != nil {
		return nil, errors.Wrap(ErrMalformedSource, err.Error())
	}
	return []string{normalizeNewlines(markdown)}, nil
}

// Registry picks an extractor by file extension.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry returns the default registry: html/htm via HTMLExtractor,
// everything textual via TextExtractor, and pdf rejected.
func NewRegistry() *Registry {
	text := TextExtractor{}
	html := HTMLExtractor{}
	return &Registry{
		byExt: map[string]Extractor{
			".txt":      text,
			".text":     text,
			".md":       text,
			".markdown": text,
			".html":     html,
			".htm":      html,
		},
		fallback: text,
	}
}

// Register maps an extension (with leading dot) to an extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// For returns the extractor for name.
func (r *Registry) For(name string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return nil, errors.Wrap(ErrUnsupportedFormat, "convert PDF sources to text (e.g. pdftotext) before ingesting")
	}
	if e, ok := r.byExt[ext]; ok {
		return e, nil
	}
	return r.fallback, nil
}

// Params returns the address parameters extraction with e under opts uses.
func Params(e Extractor, opts Options) address.Params {
	return address.Params{PageLimit: opts.PageLimit, ExtractorVersion: e.Version()}
}

// Extract runs e over data and builds the Document stored under addr.
func Extract(ctx context.Context, e Extractor, addr address.Address, name string, data []byte, opts Options) (*Document, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, errors.Wrap(ErrUnsupportedFormat, "source is a PDF file")
	}

	pages, err := e.Pages(ctx, data)
	if err != nil {
		return nil, err
	}
	if opts.PageLimit > 0 && len(pages) > opts.PageLimit {
		pages = pages[:opts.PageLimit]
	}

	doc := NewDocument(addr, Source{
		Name:        name,
		Format:      e.Format(),
		Bytes:       int64(len(data)),
		PageLimit:   opts.PageLimit,
		ExtractedAt: time.Now().UTC(),
	}, pages)

	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// IsInputError reports whether err is one of the input error sentinels.
func IsInputError(err error) bool {
	switch errors.Cause(err) {
	case ErrEmptyDocument, ErrUnsupportedFormat, ErrMalformedSource:
		return true
	}
	return false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
