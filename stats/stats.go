package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageParser Stage = "parser"
	StageSink   Stage = "sink"
	StageIMAP   Stage = "imap"
)

type EventType string

const (
	// EventTypeScanned is emitted once per top-level input document.
	EventTypeScanned   EventType = "scanned"
	EventTypeParsed    EventType = "parsed"
	EventTypeFailed    EventType = "failed"
	EventTypeSkipped   EventType = "skipped"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeWritten   EventType = "written"
	// EventTypeError reports a stage failure rather than a failed record.
	EventTypeError EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	Path      string
	Extension string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned     int
	Parsed      int
	Failed      int
	Skipped     int
	Duplicates  int
	Written     int
	Errors      int
	LastError   error
	ByExtension map[string]int
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"parsed", s.Parsed,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"duplicates", s.Duplicates,
		"written", s.Written,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{ByExtension: make(map[string]int)}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

// Snapshot returns a copy of the current summary.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.ByExtension = make(map[string]int, len(c.summary.ByExtension))
	for k, v := range c.summary.ByExtension {
		summary.ByExtension[k] = v
	}
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeParsed:
		c.summary.Parsed++
		if evt.Extension != "" {
			c.summary.ByExtension[evt.Extension]++
		}
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Top returns the limit most frequent keys of m, ties broken by key.
func Top(m map[string]int, limit int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if limit >= 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, k := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, k, m[k])
	}
}
