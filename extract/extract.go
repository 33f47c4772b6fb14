// Package extract turns files into field sets.
//
// Every format sits behind the Extractor interface and is looked up by its
// extension tag in a Registry, so new formats plug in without touching the
// dispatcher.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/dhcgn/docparse/model"
)

var (
	ErrBadEncoding = errors.New("bad encoding")
	ErrExtraction  = errors.New("extraction failed")
)

// Emit receives one unit per output record. A non-nil err marks that unit as
// failed while extraction carries on with the next one. Returning false stops
// the extractor.
type Emit func(fields model.Fields, err error) bool

// Extractor extracts the records of one document. Attachments returned are
// parsed recursively by the caller after the document's own records.
type Extractor interface {
	Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error)
}

// TextExtractor is the generic text (or OCR) capability: given a file path,
// return its text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register binds ex to every tag, replacing earlier bindings.
func (r *Registry) Register(ex Extractor, tags ...string) {
	for _, tag := range tags {
		r.extractors[tag] = ex
	}
}

func (r *Registry) Lookup(tag string) (Extractor, bool) {
	ex, ok := r.extractors[tag]
	return ex, ok
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.extractors))
	for tag := range r.extractors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

var (
	plainTextTags = []string{"txt", "md", "log", "json", "xml"}
	tikaTags      = []string{
		"txt", "md", "log", "json", "xml", "html", "pdf", "rtf",
		"doc", "docx", "odt", "ppt", "pptx", "odp", "xls", "ods", "epub",
		"jpg", "png", "tiff", "bmp", "gif",
	}
)

// NewDefaultRegistry wires the built-in extractors. When tika is non-nil it
// serves every document tag, including the ones only a Tika server can read.
func NewDefaultRegistry(tika TextExtractor, logger *slog.Logger) *Registry {
	r := NewRegistry()

	if tika != nil {
		r.Register(&DocumentExtractor{Text: tika}, tikaTags...)
	} else {
		r.Register(&DocumentExtractor{Text: PlainText{}}, plainTextTags...)
		r.Register(&DocumentExtractor{Text: HTMLText{}}, "html")
		r.Register(&DocumentExtractor{Text: PDFText{}}, "pdf")
	}

	r.Register(&CSVExtractor{}, "csv", "tsv")
	r.Register(&SpreadsheetExtractor{}, "xlsx", "xlsm")
	r.Register(&EmailExtractor{logger: logger}, "eml")
	r.Register(&MboxExtractor{logger: logger}, "mbox")
	return r
}

// DocumentExtractor emits a single {text} record.
type DocumentExtractor struct {
	Text TextExtractor
}

func (d *DocumentExtractor) Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error) {
	text, err := d.Text.ExtractText(ctx, doc.Location)
	if err != nil {
		return nil, err
	}
	emit(model.Fields{"text": text}, nil)
	return nil, nil
}
