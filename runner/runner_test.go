package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/stats"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunner_ProducerToSink(t *testing.T) {
	r := New(context.Background(), discardLogger())

	r.AddStage("producer", func(ctx context.Context) error {
		defer r.CloseRecords()
		for i := 0; i < 100; i++ {
			rec := model.NewRecord(model.Document{Path: "doc.txt"}, model.Fields{"n": i})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.RecordWriter() <- rec:
			}
			r.EmitEvent(stats.Event{Stage: stats.StageParser, Type: stats.EventTypeParsed, Extension: "txt"})
		}
		return nil
	})

	var received atomic.Int64
	r.AddStage("sink", func(ctx context.Context) error {
		for range r.Records() {
			received.Add(1)
			r.EmitEvent(stats.Event{Stage: stats.StageSink, Type: stats.EventTypeWritten})
		}
		return nil
	})

	first := stats.NewReporter(r, discardLogger())
	second := stats.NewReporter(r, discardLogger())

	require.NoError(t, r.Start())
	assert.Equal(t, int64(100), received.Load())

	for _, rep := range []*stats.Reporter{first, second} {
		s := rep.Summary()
		assert.Equal(t, 100, s.Parsed, "every subscriber sees every event")
		assert.Equal(t, 100, s.Written)
	}
}

func TestRunner_StageErrorCancelsOthers(t *testing.T) {
	r := New(context.Background(), discardLogger())
	boom := errors.New("boom")

	r.AddStage("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.AddStage("failing", func(ctx context.Context) error {
		return boom
	})
	stats.NewReporter(r, discardLogger())

	err := r.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing stage")
}

func TestRunner_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(ctx, discardLogger())

	started := make(chan struct{})
	r.AddStage("waiting", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	go func() {
		<-started
		cancel()
	}()

	assert.ErrorIs(t, r.Start(), context.Canceled)
}

func TestRunner_StartTwice(t *testing.T) {
	r := New(context.Background(), discardLogger())
	r.AddStage("noop", func(context.Context) error { return nil })

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
}

func TestRunner_CloseRecordsIdempotent(t *testing.T) {
	r := New(context.Background(), discardLogger())
	r.CloseRecords()
	assert.NotPanics(t, r.CloseRecords)
}
