package stats

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Apply(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	events := []Event{
		{Type: EventTypeScanned},
		{Type: EventTypeParsed, Extension: "pdf"},
		{Type: EventTypeParsed, Extension: "pdf"},
		{Type: EventTypeParsed, Extension: "txt"},
		{Type: EventTypeFailed, Err: boom},
		{Type: EventTypeSkipped},
		{Type: EventTypeDuplicate},
		{Type: EventTypeWritten},
	}
	for _, evt := range events {
		c.Apply(evt)
	}

	s := c.Snapshot()
	assert.Equal(t, 1, s.Scanned)
	assert.Equal(t, 3, s.Parsed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, 0, s.Errors)
	assert.Equal(t, boom, s.LastError)
	assert.Equal(t, map[string]int{"pdf": 2, "txt": 1}, s.ByExtension)

	s.ByExtension["pdf"] = 99
	assert.Equal(t, 2, c.Snapshot().ByExtension["pdf"], "snapshot must be a copy")
}

func TestCollector_RunStopsOnClose(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 2)
	events <- Event{Type: EventTypeError}
	events <- Event{Type: EventTypeWritten}
	close(events)

	c.Run(context.Background(), events)
	s := c.Snapshot()
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Written)
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"txt": 3, "pdf": 5, "eml": 3, "zip": 1}, 3)
	assert.Equal(t, "1. pdf (5)\n2. eml (3)\n3. txt (3)\n", buf.String())
}

func TestSummary_LogAttrs(t *testing.T) {
	attrs := Summary{Parsed: 2, LastError: errors.New("x")}.LogAttrs()
	assert.Contains(t, attrs, "lastError")
	assert.Contains(t, attrs, "x")
}
