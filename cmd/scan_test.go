package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/docparse/classify"
	"github.com/dhcgn/docparse/filter"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestScanTree_ClassifiesInLexicalOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.txt":        "plain text",
		"a.csv":        "name,age\nann,3\n",
		"sub/c.html":   "<html><body>hi</body></html>",
		"sub/blob.qqq": string([]byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff, 0x00, 0x10, 0x00, 0x9c}),
	})

	logger := slog.New(slog.DiscardHandler)
	rows, err := scanTree(context.Background(), root, nil, classify.New(logger), logger)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "a.csv")), rows[0].Path)
	assert.Equal(t, "csv", rows[0].Extension)
	assert.Equal(t, "txt", rows[1].Extension)
	assert.Equal(t, int64(len("plain text")), rows[1].Size)
	assert.ErrorIs(t, rows[2].Err, classify.ErrUnsupportedFile)
	assert.True(t, unclassified(rows[2].Err))
	assert.Equal(t, "html", rows[3].Extension)

	counts := histogram(rows)
	assert.Equal(t, map[string]int{"csv": 1, "txt": 1, "html": 1, unknownExtension: 1}, counts)
}

func TestScanTree_AppliesFilter(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.txt":     "a",
		"drop/tmp.txt": "b",
	})
	f, err := filter.New(filter.Options{Exclude: []string{"drop/**"}})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	rows, err := scanTree(context.Background(), root, f, classify.New(logger), logger)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "txt", rows[0].Extension)
}

func TestScanTree_SingleFileIgnoresFilter(t *testing.T) {
	root := writeTree(t, map[string]string{"only.txt": "a"})
	f, err := filter.New(filter.Options{Include: []string{"*.pdf"}})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	rows, err := scanTree(context.Background(), filepath.Join(root, "only.txt"), f, classify.New(logger), logger)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestScanTree_MissingRoot(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	_, err := scanTree(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, classify.New(logger), logger)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteCSVReport(t *testing.T) {
	rows := []scanRow{
		{Path: "docs/a.txt", Extension: "txt", Size: 12},
		{Path: "docs/b,c.bin", Size: 3, Err: classify.ErrUnsupportedFile},
	}

	var buf bytes.Buffer
	require.NoError(t, writeCSVReport(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"path", "extension", "size", "error"},
		{"docs/a.txt", "txt", "12", ""},
		{"docs/b,c.bin", "", "3", classify.ErrUnsupportedFile.Error()},
	}, records)
}

func TestSaveCSVReport_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "scan.csv")
	require.NoError(t, saveCSVReport(path, []scanRow{{Path: "x.txt", Extension: "txt"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "x.txt,txt,0,")
}
