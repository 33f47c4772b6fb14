package progress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/docparse/stats"
)

// Bar tracks top-level documents. It draws on stderr so records written to
// stdout stay machine readable.
type Bar struct {
	pb             *pterm.ProgressbarPrinter
	info           pterm.PrefixPrinter
	warn           pterm.PrefixPrinter
	total          int
	currentScanned int
	mu             sync.Mutex
	enabled        bool
}

// New creates a new progress bar if logLevel is "info". known is the number
// of content hashes remembered from earlier runs.
func New(total int, known int, logLevel string) *Bar {
	return newBar(total, known, logLevel, os.Stderr)
}

func newBar(total int, known int, logLevel string, out io.Writer) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
		info:    *pterm.Info.WithWriter(out),
		warn:    *pterm.Warning.WithWriter(out),
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithWriter(out).
			WithTotal(total).
			WithTitle("Parsing documents").
			Start()
		bar.pb = pb

		bar.info.Printf("Documents to walk: %d\n", total)
		if known > 0 {
			bar.info.Printf("Known from earlier runs: %d\n", known)
		}
	}

	return bar
}

func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar on scanned documents and prints failures above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.currentScanned++
		if b.currentScanned <= b.total {
			b.pb.Increment()
		}
		if evt.Path != "" {
			b.pb.UpdateTitle("Parsing: " + shorten(evt.Path, 40))
		}
	case stats.EventTypeFailed, stats.EventTypeError:
		if evt.Err != nil {
			b.warn.Printf("%v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber is a stats subscriber that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// shorten keeps the tail of p, which carries the file name.
func shorten(p string, limit int) string {
	runes := []rune(p)
	if len(runes) <= limit {
		return p
	}
	return "..." + string(runes[len(runes)-limit+3:])
}

// ProgressReporter prints the final summary once the bar is done.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	pr.bar.Stop()

	summary := pr.collector.Snapshot()
	info := pr.bar.info
	pterm.DefaultSection.WithWriter(os.Stderr).Println("Summary")
	info.Printf("Duration: %v\n", time.Since(pr.started).Round(time.Millisecond))
	info.Printf("Documents scanned: %d\n", summary.Scanned)
	info.Printf("Records parsed: %d\n", summary.Parsed)
	info.Printf("Records failed: %d\n", summary.Failed)
	info.Printf("Records written: %d\n", summary.Written)
	info.Printf("Skipped: %d, unchanged: %d\n", summary.Skipped, summary.Duplicates)
	for _, ext := range stats.Top(summary.ByExtension, 5) {
		info.Printf("  %s: %d\n", ext, summary.ByExtension[ext])
	}
	if summary.LastError != nil {
		pr.bar.warn.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
