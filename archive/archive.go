// Package archive unpacks archives and signed-document containers into a
// scratch directory and returns flat lists of the files found inside.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mholt/archives"

	"github.com/dhcgn/docparse/classify"
	"github.com/dhcgn/docparse/model"
)

var (
	ErrCorruptArchive = errors.New("corrupt archive")
	ErrMaxDepth       = errors.New("maximum archive depth exceeded")
	ErrTooManyEntries = errors.New("too many archive entries")
	// ErrTooLarge marks an entry that decompresses past MaxEntrySize.
	ErrTooLarge = errors.New("file too large")
	// ErrTooMuchData aborts an Unpack call that writes more than MaxTotalSize.
	ErrTooMuchData = errors.New("archive expands past size budget")
)

const (
	DefaultMaxDepth   = 5
	DefaultMaxEntries = 10000
)

type Options struct {
	// MaxDepth bounds nesting. The outermost archive is depth 0.
	MaxDepth int
	// MaxEntries caps the files extracted by one Unpack call, nested ones included.
	MaxEntries int
	// MaxEntrySize caps the decompressed size of a single entry. Larger
	// entries are cut off and returned with ErrTooLarge. Zero or less
	// disables the cap.
	MaxEntrySize int64
	// MaxTotalSize caps the bytes written by one Unpack call. Zero or less
	// disables the cap.
	MaxTotalSize int64
}

type Unpacker struct {
	opts       Options
	classifier *classify.Classifier
	logger     *slog.Logger
}

func New(opts Options, classifier *classify.Classifier, logger *slog.Logger) *Unpacker {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if classifier == nil {
		classifier = classify.New(logger)
	}
	return &Unpacker{opts: opts, classifier: classifier, logger: logger}
}

type budget struct {
	remaining int
	bytes     int64
}

// fatal reports whether err ends the whole Unpack call instead of failing
// just one nested archive.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, ErrTooManyEntries) || errors.Is(err, ErrTooMuchData) || ctx.Err() != nil
}

// Unpack extracts the archive described by doc into dir, which must be an
// empty directory owned by the caller. Nested archives are unpacked into their
// own subdirectories. The returned descriptors are leaves in archive order.
// A nested archive that cannot be unpacked is returned with its error attached.
func (u *Unpacker) Unpack(ctx context.Context, doc model.Document, dir string) ([]model.Document, error) {
	return u.unpack(ctx, doc, dir, 0, &budget{remaining: u.opts.MaxEntries, bytes: u.opts.MaxTotalSize})
}

func (u *Unpacker) unpack(ctx context.Context, doc model.Document, dir string, depth int, b *budget) ([]model.Document, error) {
	entries, err := u.extract(ctx, doc, dir, b)
	if err != nil {
		return nil, err
	}

	leaves := make([]model.Document, 0, len(entries))
	for _, entry := range entries {
		if entry.Failed() || !classify.IsArchive(entry.Extension) {
			leaves = append(leaves, entry)
			continue
		}
		if depth+1 >= u.opts.MaxDepth {
			leaves = append(leaves, entry.WithError(fmt.Errorf("%w: %s", ErrMaxDepth, entry.Path)))
			continue
		}

		sub, err := os.MkdirTemp(dir, "nested-*")
		if err != nil {
			return nil, fmt.Errorf("create nested directory: %w", err)
		}
		nested, err := u.unpack(ctx, entry, sub, depth+1, b)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			if u.logger != nil {
				u.logger.Warn("nested archive failed", "path", entry.Path, "err", err)
			}
			leaves = append(leaves, entry.WithError(err))
			continue
		}
		leaves = append(leaves, nested...)
	}
	return leaves, nil
}

func (u *Unpacker) extract(ctx context.Context, doc model.Document, dir string, b *budget) ([]model.Document, error) {
	if doc.Extension == "ddoc" {
		return u.extractDDoc(ctx, doc, dir, b)
	}

	file, err := os.Open(doc.Location)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	format, _, err := archives.Identify(ctx, "", file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind archive: %w", err)
	}

	if ex, ok := format.(archives.Extraction); ok {
		return u.extractEntries(ctx, ex, file, doc, dir, b)
	}
	if dec, ok := format.(archives.Decompressor); ok {
		return u.decompress(ctx, dec, file, doc, dir, b)
	}
	return nil, fmt.Errorf("%w: %s: format %s cannot be extracted", ErrCorruptArchive, doc.Path, strings.TrimPrefix(format.Extension(), "."))
}

func (u *Unpacker) extractEntries(ctx context.Context, ex archives.Extraction, file *os.File, doc model.Document, dir string, b *budget) ([]model.Document, error) {
	var entries []model.Document
	err := ex.Extract(ctx, file, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || f.LinkTarget != "" || !f.Mode().IsRegular() {
			return nil
		}
		name, ok := cleanEntryName(f.NameInArchive)
		if !ok {
			return nil
		}

		in, err := f.Open()
		if err != nil {
			return err
		}
		defer in.Close()

		entry, err := u.store(ctx, doc, dir, name, in, b)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
	}

	if u.logger != nil {
		u.logger.Debug("archive extracted", "path", doc.Path, "format", strings.TrimPrefix(ex.Extension(), "."), "entries", len(entries))
	}
	return entries, nil
}

func (u *Unpacker) decompress(ctx context.Context, dec archives.Decompressor, file *os.File, doc model.Document, dir string, b *budget) ([]model.Document, error) {
	rc, err := dec.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
	}
	defer rc.Close()

	entry, err := u.store(ctx, doc, dir, decompressedName(doc.Path), rc, b)
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, doc.Path, err)
	}
	return []model.Document{entry}, nil
}

// store copies one entry below dir and classifies it. An entry past
// MaxEntrySize is removed again and returned with ErrTooLarge attached.
func (u *Unpacker) store(ctx context.Context, parent model.Document, dir, name string, r io.Reader, b *budget) (model.Document, error) {
	if b.remaining <= 0 {
		return model.Document{}, fmt.Errorf("%w: %s", ErrTooManyEntries, parent.Path)
	}
	b.remaining--

	limit, byBudget := u.entryLimit(b)
	if limit >= 0 {
		r = io.LimitReader(r, limit+1)
	}

	target := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return model.Document{}, fmt.Errorf("create entry directory: %w", err)
	}
	out, target, err := createUnique(target)
	if err != nil {
		return model.Document{}, err
	}
	size, err := io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		return model.Document{}, fmt.Errorf("write entry %s: %w", name, err)
	}
	if closeErr != nil {
		return model.Document{}, fmt.Errorf("close entry %s: %w", name, closeErr)
	}

	entry := model.Document{
		Path:      parent.Path + "/" + name,
		Location:  target,
		Origin:    model.OriginArchive,
		Container: parent.Path,
		ParentID:  parent.ParentID,
		Size:      size,
	}

	if limit >= 0 && size > limit {
		if err := os.Remove(target); err != nil && u.logger != nil {
			u.logger.Warn("removing oversized entry failed", "path", entry.Path, "err", err)
		}
		if byBudget {
			return model.Document{}, fmt.Errorf("%w: %s exceeds %s", ErrTooMuchData, parent.Path, humanize.Bytes(uint64(u.opts.MaxTotalSize)))
		}
		entry.Location = ""
		entry.Extension = classify.FromName(name)
		return entry.WithError(fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, entry.Path, humanize.Bytes(uint64(limit)))), nil
	}
	if u.opts.MaxTotalSize > 0 {
		b.bytes -= size
	}

	tag, err := u.classifier.Classify(ctx, target, path.Base(name))
	if err != nil {
		entry.Extension = classify.FromName(name)
		return entry.WithError(err), nil
	}
	entry.Extension = tag
	return entry, nil
}

// entryLimit returns how many bytes the next entry may take, or -1 for no
// limit. byBudget is set when the remaining total budget is the tighter cap.
func (u *Unpacker) entryLimit(b *budget) (limit int64, byBudget bool) {
	limit = -1
	if u.opts.MaxEntrySize > 0 {
		limit = u.opts.MaxEntrySize
	}
	if u.opts.MaxTotalSize > 0 && (limit < 0 || b.bytes < limit) {
		return max(b.bytes, 0), true
	}
	return limit, false
}

// cleanEntryName turns an archive member name into a relative slash path
// that cannot escape the extraction directory.
func cleanEntryName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	return cleaned, true
}

func decompressedName(p string) string {
	base := path.Base(filepath.ToSlash(p))
	trimmed := strings.TrimSuffix(base, path.Ext(base))
	if trimmed == "" || trimmed == base {
		return "decompressed"
	}
	return trimmed
}

func createUnique(target string) (*os.File, string, error) {
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	candidate := target
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 1000 {
			return nil, "", fmt.Errorf("create entry: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
