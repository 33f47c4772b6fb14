// Package classify assigns normalized extension tags to files.
//
// The file name is trusted when it carries a known extension. Otherwise the
// content is sniffed, first by MIME detection and then by archive signatures.
package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mholt/archives"
)

var ErrUnsupportedFile = errors.New("unsupported file")

var archiveTags = map[string]bool{
	"zip":     true,
	"tar":     true,
	"tar.gz":  true,
	"tar.bz2": true,
	"tar.xz":  true,
	"tar.zst": true,
	"gz":      true,
	"bz2":     true,
	"xz":      true,
	"zst":     true,
	"7z":      true,
	"rar":     true,
	// signed document containers
	"asice": true,
	"bdoc":  true,
	"edoc":  true,
	"sce":   true,
	"ddoc":  true,
}

var documentTags = map[string]bool{
	"txt": true, "md": true, "log": true, "json": true, "xml": true, "html": true,
	"pdf": true, "rtf": true, "doc": true, "docx": true, "odt": true,
	"ppt": true, "pptx": true, "odp": true, "xls": true, "ods": true, "epub": true,
	"jpg": true, "png": true, "tiff": true, "bmp": true, "gif": true,
	"csv": true, "tsv": true, "xlsx": true, "xlsm": true,
	"eml": true, "mbox": true,
}

var aliases = map[string]string{
	"htm":      "html",
	"xhtml":    "html",
	"tgz":      "tar.gz",
	"tbz":      "tar.bz2",
	"tbz2":     "tar.bz2",
	"txz":      "tar.xz",
	"jpeg":     "jpg",
	"tif":      "tiff",
	"text":     "txt",
	"markdown": "md",
	"mbx":      "mbox",
	"gzip":     "gz",
	"bzip2":    "bz2",
}

var compoundSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst"}

// IsArchive reports whether tag names a container that has to be unpacked.
func IsArchive(tag string) bool {
	return archiveTags[tag]
}

// Known reports whether tag is a tag the classifier can return.
func Known(tag string) bool {
	return archiveTags[tag] || documentTags[tag]
}

// KnownTags lists every tag the classifier can return, sorted.
func KnownTags() []string {
	tags := make([]string, 0, len(archiveTags)+len(documentTags))
	for tag := range archiveTags {
		tags = append(tags, tag)
	}
	for tag := range documentTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Normalize lowercases tag, strips a leading dot and resolves aliases.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "."))
	if alias, ok := aliases[tag]; ok {
		return alias
	}
	return tag
}

// FromName returns the known tag implied by a file name, or "".
func FromName(name string) string {
	lower := strings.ToLower(filepath.Base(name))
	for _, suffix := range compoundSuffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return strings.TrimPrefix(suffix, ".")
		}
	}
	tag := Normalize(filepath.Ext(lower))
	if tag == "" || !Known(tag) {
		return ""
	}
	return tag
}

type Classifier struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify returns the tag for the file at path. nameHint overrides the base
// name of path when the bytes live under a scratch name.
func (c *Classifier) Classify(ctx context.Context, path, nameHint string) (string, error) {
	name := nameHint
	if name == "" {
		name = filepath.Base(path)
	}
	if tag := FromName(name); tag != "" {
		return tag, nil
	}

	tag, err := c.sniff(ctx, path)
	if err != nil {
		return "", err
	}
	if c.logger != nil {
		c.logger.Debug("extension sniffed from content", "path", path, "name", name, "tag", tag)
	}
	return tag, nil
}

// ClassifyBytes is Classify for content held in memory.
func (c *Classifier) ClassifyBytes(ctx context.Context, data []byte, nameHint string) (string, error) {
	if tag := FromName(nameHint); tag != "" {
		return tag, nil
	}

	label := nameHint
	if label == "" {
		label = "<bytes>"
	}
	tag, err := c.identify(ctx, mimetype.Detect(data), bytes.NewReader(data), label)
	if err != nil {
		return "", err
	}
	if c.logger != nil {
		c.logger.Debug("extension sniffed from content", "name", label, "size", len(data), "tag", tag)
	}
	return tag, nil
}

func (c *Classifier) sniff(ctx context.Context, path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	defer file.Close()
	return c.identify(ctx, mt, file, path)
}

// identify tries the MIME type first and archive signatures second.
func (c *Classifier) identify(ctx context.Context, mt *mimetype.MIME, r io.Reader, label string) (string, error) {
	if tag := fromMIME(mt); tag != "" {
		return tag, nil
	}

	format, _, err := archives.Identify(ctx, "", r)
	if err == nil {
		if tag := Normalize(format.Extension()); Known(tag) {
			return tag, nil
		}
	}

	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, label, mt.String())
}

func fromMIME(mt *mimetype.MIME) string {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("text/plain"):
			return "txt"
		case m.Is("message/rfc822"):
			return "eml"
		case m.Is("application/mbox"):
			return "mbox"
		}
		if tag := Normalize(m.Extension()); tag != "" && Known(tag) {
			return tag
		}
	}
	return ""
}
