// Package sink writes records as JSON lines or as a YAML document stream.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/runner"
	"github.com/dhcgn/docparse/stats"
)

type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts jsonl (or json) and yaml (or yml).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

type encoder interface {
	Encode(v any) error
}

// Writer encodes records to an underlying stream.
type Writer struct {
	buf    *bufio.Writer
	enc    encoder
	yaml   *yaml.Encoder
	closer io.Closer
}

func NewWriter(w io.Writer, format Format) (*Writer, error) {
	buf := bufio.NewWriter(w)
	out := &Writer{buf: buf}
	switch format {
	case FormatJSONL, "":
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		out.enc = enc
	case FormatYAML:
		enc := yaml.NewEncoder(buf)
		enc.SetIndent(2)
		out.enc = enc
		out.yaml = enc
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return out, nil
}

// Open writes to stdout when path is "" or "-", and to a new file otherwise.
func Open(path string, format Format) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, format)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	w, err := NewWriter(file, format)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

func (w *Writer) Write(rec model.Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Meta.Path, err)
	}
	return nil
}

// Close flushes buffered output and closes the file, if one was opened.
func (w *Writer) Close() error {
	var firstErr error
	if w.yaml != nil {
		if err := w.yaml.Close(); err != nil {
			firstErr = fmt.Errorf("close yaml stream: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush output: %w", err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close output: %w", err)
		}
	}
	return firstErr
}

// Consumer is the runner stage draining records into a Writer.
type Consumer struct {
	writer *Writer
	runner *runner.Runner
	logger *slog.Logger
}

func NewConsumer(w *Writer, r *runner.Runner, logger *slog.Logger) *Consumer {
	consumer := &Consumer{writer: w, runner: r, logger: logger}
	r.AddStage("sink", consumer.run)
	return consumer
}

func (c *Consumer) run(ctx context.Context) error {
	defer func() {
		if err := c.writer.Close(); err != nil {
			c.logger.Error("closing output failed", "err", err)
		}
	}()

	records := c.runner.Records()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := c.writer.Write(rec); err != nil {
				c.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeError, Path: rec.Meta.Path, Err: err})
				return err
			}
			c.runner.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeWritten, Path: rec.Meta.Path, Extension: rec.Meta.Extension})
		}
	}
}
