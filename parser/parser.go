// Package parser walks files, directories and in-memory blobs and turns every
// unit it finds into a model.Record.
//
// Archives are unpacked and email attachments are split off and walked
// recursively, depth first. Per-file failures become records carrying an
// error; only a structurally bad top-level input is returned as an error.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/dhcgn/docparse/archive"
	"github.com/dhcgn/docparse/classify"
	"github.com/dhcgn/docparse/extract"
	"github.com/dhcgn/docparse/filter"
	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/scratch"
	"github.com/dhcgn/docparse/state"
	"github.com/dhcgn/docparse/stats"
)

var (
	ErrTooLarge     = archive.ErrTooLarge
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultMaxFileSize int64 = 100 * 1000 * 1000
	DefaultMaxDepth          = archive.DefaultMaxDepth
)

type Options struct {
	// MaxFileSize rejects larger documents with ErrTooLarge. Zero means
	// DefaultMaxFileSize, a negative value disables the check.
	MaxFileSize int64
	// MaxDepth bounds nesting through archives and attachments.
	MaxDepth   int
	MaxEntries int
	// MaxUnpackedSize caps the bytes one top-level archive may unpack to,
	// nested archives included. Zero or less disables the cap.
	MaxUnpackedSize int64
	// ScratchRoot is where the per-walk scratch directory is created.
	ScratchRoot string
	// Extensions, when set, restricts extraction to these tags.
	Extensions []string
	Filter     *filter.Filter
	Tracker    state.Tracker
}

type Parser struct {
	opts       Options
	allowed    map[string]bool
	classifier *classify.Classifier
	unpacker   *archive.Unpacker
	registry   *extract.Registry
	logger     *slog.Logger
	events     func(stats.Event)
}

func New(opts Options, registry *extract.Registry, logger *slog.Logger) *Parser {
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if registry == nil {
		registry = extract.NewDefaultRegistry(nil, logger)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var allowed map[string]bool
	if len(opts.Extensions) > 0 {
		allowed = make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			tag := classify.Normalize(ext)
			if !classify.Known(tag) {
				logger.Warn("ignoring unknown extension in allow-list", "extension", ext, "known", classify.KnownTags())
				continue
			}
			allowed[tag] = true
		}
	}

	classifier := classify.New(logger)
	return &Parser{
		opts:       opts,
		allowed:    allowed,
		classifier: classifier,
		unpacker: archive.New(archive.Options{
			MaxDepth:     opts.MaxDepth,
			MaxEntries:   opts.MaxEntries,
			MaxEntrySize: opts.MaxFileSize,
			MaxTotalSize: opts.MaxUnpackedSize,
		}, classifier, logger),
		registry:   registry,
		logger:     logger,
	}
}

// WithEvents returns a copy of p that reports scanned, skipped and duplicate
// documents to fn.
func (p *Parser) WithEvents(fn func(stats.Event)) *Parser {
	clone := *p
	clone.events = fn
	return &clone
}

// Input is a top-level parse request. Exactly one of Path and Data is set.
type Input struct {
	Path string
	Data []byte
	// Name is the file name hint for Data.
	Name string
	// Origin overrides model.OriginBytes for Data inputs.
	Origin model.Origin
}

// ParsePath parses a file or a directory tree.
func (p *Parser) ParsePath(ctx context.Context, path string) (iter.Seq[model.Record], error) {
	return p.Parse(ctx, Input{Path: path})
}

// ParseBytes parses an in-memory blob named name.
func (p *Parser) ParseBytes(ctx context.Context, data []byte, name string) (iter.Seq[model.Record], error) {
	if data == nil {
		data = []byte{}
	}
	return p.Parse(ctx, Input{Data: data, Name: name})
}

// Parse validates in and returns a lazy sequence of records. The sequence
// can be ranged over once; later iterations yield nothing. The scratch
// directory lives exactly as long as that one iteration.
func (p *Parser) Parse(ctx context.Context, in Input) (iter.Seq[model.Record], error) {
	var info fs.FileInfo
	switch {
	case in.Path != "" && in.Data != nil:
		return nil, fmt.Errorf("%w: both path and data given", ErrInvalidInput)
	case in.Path == "" && in.Data == nil:
		return nil, fmt.Errorf("%w: neither path nor data given", ErrInvalidInput)
	case in.Path != "":
		var err error
		info, err = os.Stat(in.Path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", in.Path, err)
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file or directory", ErrInvalidInput, in.Path)
		}
	}

	var used atomic.Bool
	return func(yield func(model.Record) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}

		dir, err := scratch.New(p.opts.ScratchRoot)
		if err != nil {
			yield(model.ErrorRecord(p.inputDocument(in, info), err))
			return
		}
		defer func() {
			if err := dir.Close(); err != nil {
				p.logger.Warn("scratch cleanup failed", "dir", dir.Path(), "err", err)
			}
		}()

		w := &walk{parser: p, ctx: ctx, scratch: dir, yield: yield}
		switch {
		case in.Data != nil:
			w.bytes(in)
		case info.IsDir():
			w.tree(in.Path)
		default:
			w.top(p.inputDocument(in, info))
		}
	}, nil
}

func (p *Parser) inputDocument(in Input, info fs.FileInfo) model.Document {
	if in.Data != nil {
		name := in.Name
		if name == "" {
			name = "blob"
		}
		origin := in.Origin
		if origin == "" {
			origin = model.OriginBytes
		}
		return model.Document{
			Path:      filepath.ToSlash(name),
			Extension: classify.FromName(name),
			Origin:    origin,
			Size:      int64(len(in.Data)),
		}
	}
	doc := model.Document{
		Path:      filepath.ToSlash(in.Path),
		Location:  in.Path,
		Extension: classify.FromName(in.Path),
		Origin:    model.OriginFile,
	}
	if info != nil {
		doc.Size = info.Size()
	}
	return doc
}

// CountDocuments returns how many top-level documents a walk of root visits.
func (p *Parser) CountDocuments(root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, nil
	}

	count := 0
	err = filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !p.opts.Filter.Active() || p.opts.Filter.Allows(relative(root, name)) {
			count++
		}
		return nil
	})
	return count, err
}

func (p *Parser) event(evt stats.Event) {
	if p.events != nil {
		evt.Stage = stats.StageParser
		p.events(evt)
	}
}

func (p *Parser) allows(tag string) bool {
	return p.allowed == nil || tag == "" || classify.IsArchive(tag) || p.allowed[tag]
}

func (p *Parser) sizeLimit() string {
	return humanize.Bytes(uint64(p.opts.MaxFileSize))
}

func relative(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func baseName(logical string) string {
	return path.Base(logical)
}
