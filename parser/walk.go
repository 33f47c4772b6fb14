package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/dhcgn/docparse/archive"
	"github.com/dhcgn/docparse/classify"
	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/scratch"
	"github.com/dhcgn/docparse/state"
	"github.com/dhcgn/docparse/stats"
)

// walk is the state of one iteration. It is not safe for concurrent use.
type walk struct {
	parser  *Parser
	ctx     context.Context
	scratch *scratch.Dir
	yield   func(model.Record) bool

	stopped bool
	failed  int
	skipped int
}

func (w *walk) emit(rec model.Record) bool {
	if w.stopped {
		return false
	}
	if rec.Meta.Failed() {
		w.failed++
	}
	if !w.yield(rec) {
		w.stopped = true
	}
	return !w.stopped
}

func (w *walk) fail(doc model.Document, err error) bool {
	return w.emit(model.ErrorRecord(doc, err))
}

func (w *walk) cancelled() bool {
	if w.stopped {
		return true
	}
	if err := w.ctx.Err(); err != nil {
		w.parser.logger.Debug("walk cancelled", "err", err)
		w.stopped = true
		return true
	}
	return false
}

// bytes writes an in-memory input to scratch and walks it like a file.
func (w *walk) bytes(in Input) bool {
	doc := w.parser.inputDocument(in, nil)
	if doc.Extension == "" {
		if tag, err := w.parser.classifier.ClassifyBytes(w.ctx, in.Data, in.Name); err == nil {
			doc.Extension = tag
		}
	}
	location, err := w.scratch.Write("input", baseName(doc.Path), in.Data)
	if err != nil {
		return w.fail(doc, err)
	}
	doc.Location = location
	return w.top(doc)
}

// tree walks root in lexical order.
func (w *walk) tree(root string) bool {
	p := w.parser
	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if w.cancelled() {
			return fs.SkipAll
		}
		doc := model.Document{
			Path:      filepath.ToSlash(name),
			Location:  name,
			Extension: classify.FromName(name),
			Origin:    model.OriginFile,
		}
		if err != nil {
			p.logger.Warn("unreadable entry", "path", name, "err", err)
			if !w.fail(doc, err) {
				return fs.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			p.logger.Debug("skipping non-regular file", "path", name, "mode", d.Type().String())
			return nil
		}
		if p.opts.Filter.Active() && !p.opts.Filter.Allows(relative(root, name)) {
			p.logger.Debug("filtered out", "path", name)
			p.event(stats.Event{Type: stats.EventTypeSkipped, Path: doc.Path, Detail: "filter"})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !w.fail(doc, err) {
				return fs.SkipAll
			}
			return nil
		}
		doc.Size = info.Size()

		if !w.top(doc) {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !w.stopped {
		return w.fail(model.Document{Path: filepath.ToSlash(root), Origin: model.OriginFile}, err)
	}
	return !w.stopped
}

// top walks one top-level document and records it with the tracker when
// every unit below it was extracted: no failures and nothing skipped by the
// allow-list.
func (w *walk) top(doc model.Document) bool {
	if w.cancelled() {
		return false
	}
	p := w.parser
	p.event(stats.Event{Type: stats.EventTypeScanned, Path: doc.Path, Extension: doc.Extension})

	if !w.withinLimit(doc) {
		return w.fail(doc, w.tooLarge(doc))
	}

	hash, _, err := state.HashFile(doc.Location)
	if err != nil {
		return w.fail(doc, err)
	}
	doc.SHA256 = hash

	if p.opts.Tracker != nil && p.opts.Tracker.AlreadyProcessed(hash) {
		p.logger.Debug("already processed", "path", doc.Path, "sha256", hash)
		p.event(stats.Event{Type: stats.EventTypeDuplicate, Path: doc.Path, Extension: doc.Extension})
		return true
	}

	failedBefore, skippedBefore := w.failed, w.skipped
	if !w.visit(doc, 0) {
		return false
	}
	if p.opts.Tracker != nil && w.failed == failedBefore && w.skipped == skippedBefore {
		if err := p.opts.Tracker.MarkProcessed(hash, doc.Path); err != nil {
			p.logger.Warn("state update failed", "path", doc.Path, "err", err)
		}
	}
	return true
}

// visit handles one document: size policy, allow-list, classification, then
// either unpacking or extraction. It reports whether the walk goes on.
func (w *walk) visit(doc model.Document, depth int) bool {
	if w.cancelled() {
		return false
	}
	p := w.parser

	if doc.Failed() {
		return w.emit(model.NewRecord(doc, nil))
	}
	if depth > p.opts.MaxDepth {
		return w.fail(doc, fmt.Errorf("%w: %s", archive.ErrMaxDepth, doc.Path))
	}
	if !w.withinLimit(doc) {
		return w.fail(doc, w.tooLarge(doc))
	}
	if !p.allows(doc.Extension) {
		return w.skip(doc)
	}

	if doc.SHA256 == "" {
		if hash, _, err := state.HashFile(doc.Location); err == nil {
			doc.SHA256 = hash
		}
	}

	tag, err := p.classifier.Classify(w.ctx, doc.Location, baseName(doc.Path))
	if err != nil {
		if doc.Extension == "" {
			doc.Extension = classify.FromName(doc.Path)
		}
		return w.fail(doc, err)
	}
	doc.Extension = tag
	if !p.allows(tag) {
		return w.skip(doc)
	}

	if classify.IsArchive(tag) {
		return w.unpack(doc, depth)
	}
	return w.extract(doc, depth)
}

func (w *walk) skip(doc model.Document) bool {
	w.skipped++
	w.parser.logger.Debug("extension not allowed", "path", doc.Path, "extension", doc.Extension)
	w.parser.event(stats.Event{Type: stats.EventTypeSkipped, Path: doc.Path, Extension: doc.Extension, Detail: "extension"})
	return true
}

func (w *walk) unpack(doc model.Document, depth int) bool {
	dir, err := w.scratch.Sub("archive")
	if err != nil {
		return w.fail(doc, err)
	}
	leaves, err := w.parser.unpacker.Unpack(w.ctx, doc, dir)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			w.stopped = true
			return false
		}
		w.parser.logger.Warn("unpack failed", "path", doc.Path, "err", err)
		return w.fail(doc, err)
	}
	for _, leaf := range leaves {
		if !w.visit(leaf, depth+1) {
			return false
		}
	}
	return true
}

func (w *walk) extract(doc model.Document, depth int) bool {
	p := w.parser
	ex, ok := p.registry.Lookup(doc.Extension)
	if !ok {
		return w.fail(doc, fmt.Errorf("%w: no extractor for %q", classify.ErrUnsupportedFile, doc.Extension))
	}

	emitted := 0
	attachments, err := ex.Extract(w.ctx, doc, func(fields model.Fields, err error) bool {
		emitted++
		return w.emit(model.NewRecord(doc.WithError(err), fields))
	})
	if w.stopped {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			w.stopped = true
			return false
		}
		p.logger.Debug("extraction failed", "path", doc.Path, "extension", doc.Extension, "err", err)
		return w.fail(doc, err)
	}
	if emitted == 0 {
		if !w.emit(model.NewRecord(doc, nil)) {
			return false
		}
	}

	for _, att := range attachments {
		child := model.Document{
			Path:      doc.Path + "/" + att.Filename,
			Extension: classify.FromName(att.Filename),
			Origin:    model.OriginAttachment,
			Container: doc.Path,
			ParentID:  att.ParentID,
			Size:      int64(len(att.Content)),
		}
		location, err := w.scratch.Write("attachment", att.Filename, att.Content)
		if err != nil {
			if !w.fail(child, err) {
				return false
			}
			continue
		}
		child.Location = location
		if !w.visit(child, depth+1) {
			return false
		}
	}
	return true
}

func (w *walk) withinLimit(doc model.Document) bool {
	limit := w.parser.opts.MaxFileSize
	return limit < 0 || doc.Size <= limit
}

func (w *walk) tooLarge(doc model.Document) error {
	return fmt.Errorf("%w: %d bytes exceeds %s", ErrTooLarge, doc.Size, w.parser.sizeLimit())
}
