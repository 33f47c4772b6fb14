package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/runner"
	"github.com/dhcgn/docparse/stats"
)

// Source hands top-level inputs to fn one at a time.
type Source interface {
	Inputs(ctx context.Context, fn func(Input) error) error
}

// Inputs is a fixed list of inputs.
type Inputs []Input

func (in Inputs) Inputs(ctx context.Context, fn func(Input) error) error {
	for _, input := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(input); err != nil {
			return err
		}
	}
	return nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, fn func(Input) error) error

func (f SourceFunc) Inputs(ctx context.Context, fn func(Input) error) error {
	return f(ctx, fn)
}

// Producer is the runner stage that parses every input of a Source and
// forwards the records.
type Producer struct {
	parser *Parser
	source Source
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(p *Parser, source Source, r *runner.Runner, logger *slog.Logger) *Producer {
	producer := &Producer{
		parser: p.WithEvents(r.EmitEvent),
		source: source,
		runner: r,
		logger: logger,
	}
	r.AddStage("parser", producer.run)
	return producer
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseRecords()
	return p.source.Inputs(ctx, func(in Input) error {
		return p.parse(ctx, in)
	})
}

func (p *Producer) parse(ctx context.Context, in Input) error {
	records, err := p.parser.Parse(ctx, in)
	if err != nil {
		p.runner.EmitEvent(stats.Event{Stage: stats.StageParser, Type: stats.EventTypeError, Path: in.Path, Err: err})
		return fmt.Errorf("parse input: %w", err)
	}

	out := p.runner.RecordWriter()
	for rec := range records {
		p.runner.EmitEvent(recordEvent(rec))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- rec:
		}
	}
	return ctx.Err()
}

func recordEvent(rec model.Record) stats.Event {
	evt := stats.Event{
		Stage:     stats.StageParser,
		Type:      stats.EventTypeParsed,
		Path:      rec.Meta.Path,
		Extension: rec.Meta.Extension,
	}
	if rec.Meta.Failed() {
		evt.Type = stats.EventTypeFailed
		evt.Err = fmt.Errorf("%s: %s", rec.Meta.Path, rec.Meta.Error)
	}
	return evt
}
