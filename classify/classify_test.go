package classify

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "report.PDF", want: "pdf"},
		{name: "index.htm", want: "html"},
		{name: "backup.tar.gz", want: "tar.gz"},
		{name: "backup.tgz", want: "tar.gz"},
		{name: "logs.tar.zst", want: "tar.zst"},
		{name: "scan.jpeg", want: "jpg"},
		{name: "signed.bdoc", want: "bdoc"},
		{name: "mail.eml", want: "eml"},
		{name: "noextension", want: ""},
		{name: "weird.qqq", want: ""},
		{name: ".tar.gz", want: "gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromName(tt.name))
		})
	}
}

func TestIsArchive(t *testing.T) {
	for _, tag := range []string{"zip", "tar.gz", "7z", "rar", "asice", "ddoc", "gz"} {
		assert.True(t, IsArchive(tag), tag)
	}
	for _, tag := range []string{"txt", "docx", "eml", "xlsx", ""} {
		assert.False(t, IsArchive(tag), tag)
	}
}

func TestClassify_NameHintWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob-1234")
	require.NoError(t, os.WriteFile(path, []byte("plain words"), 0o644))

	tag, err := New(nil).Classify(context.Background(), path, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "md", tag)
}

func TestClassify_SniffsContent(t *testing.T) {
	dir := t.TempDir()
	c := New(nil)

	pdfPath := filepath.Join(dir, "document")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"), 0o644))
	tag, err := c.Classify(context.Background(), pdfPath, "")
	require.NoError(t, err)
	assert.Equal(t, "pdf", tag)

	textPath := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(textPath, []byte("just some readable text\nover two lines\n"), 0o644))
	tag, err = c.Classify(context.Background(), textPath, "")
	require.NoError(t, err)
	assert.Equal(t, "txt", tag)

	zipPath := filepath.Join(dir, "bundle")
	writeZip(t, zipPath, map[string]string{"a.txt": "a"})
	tag, err = c.Classify(context.Background(), zipPath, "")
	require.NoError(t, err)
	assert.Equal(t, "zip", tag)
}

func TestClassify_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mystery.qqq")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff, 0x00, 0x10, 0x00, 0x9c}, 0o644))

	_, err := New(nil).Classify(context.Background(), path, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFile))
}

func TestClassifyBytes(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	tag, err := c.ClassifyBytes(ctx, []byte("anything"), "notes.TXT")
	require.NoError(t, err)
	assert.Equal(t, "txt", tag)

	tag, err = c.ClassifyBytes(ctx, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "pdf", tag)

	_, err = c.ClassifyBytes(ctx, []byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff, 0x00, 0x10, 0x00, 0x9c}, "blob")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Contains(t, err.Error(), "blob")
}

func TestClassify_MissingFile(t *testing.T) {
	_, err := New(nil).Classify(context.Background(), filepath.Join(t.TempDir(), "gone"), "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedFile))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}
