package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_WithError(t *testing.T) {
	doc := Document{Path: "a.txt", Extension: "txt", Origin: OriginFile}

	failed := doc.WithError(errors.New("boom"))
	assert.Equal(t, "boom", failed.Error)
	assert.True(t, failed.Failed())
	assert.False(t, doc.Failed(), "original descriptor must not change")

	assert.Equal(t, doc, doc.WithError(nil))
}

func TestRecord_MapEmbedsMetadata(t *testing.T) {
	doc := Document{Path: "dir/a.csv", Extension: "csv", Origin: OriginFile, Location: "/tmp/x"}
	rec := NewRecord(doc, Fields{"name": "alice", "id": "7", MetaKey: "column"})

	m := rec.Map()
	assert.Equal(t, "alice", m["name"])
	assert.Equal(t, "7", m["_id"])
	assert.Equal(t, "column", m["_"+MetaKey])
	assert.Equal(t, rec.ID, m["id"])
	assert.Equal(t, doc, m[MetaKey])
}

func TestRecord_MarshalJSON(t *testing.T) {
	rec := ErrorRecord(Document{Path: "big.bin", Extension: "bin", Origin: OriginFile, Location: "/secret"}, errors.New("too large"))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	meta, ok := decoded[MetaKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "big.bin", meta["path"])
	assert.Equal(t, "bin", meta["extension"])
	assert.Equal(t, "file", meta["origin"])
	assert.Equal(t, "too large", meta["error"])
	assert.NotContains(t, meta, "Location")
	assert.NotContains(t, decoded, "text")

	_, hasText := rec.Text()
	assert.False(t, hasText)
}
