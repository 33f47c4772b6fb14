package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "docparse"}
	require.NoError(t, RegisterFlags(cmd))
	require.NoError(t, cmd.ParseFlags(args))
	return LoadConfig(cmd, cmd.Flags().Args())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := load(t, "docs")
	require.NoError(t, err)

	assert.Equal(t, "docs", cfg.InputPath)
	assert.Equal(t, "-", cfg.Output)
	assert.Equal(t, "jsonl", cfg.Format)
	assert.Equal(t, uint64(100_000_000), cfg.MaxFileSize)
	assert.Equal(t, uint64(10_000_000_000), cfg.MaxUnpackedSize)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, 10000, cfg.MaxEntries)
	assert.Equal(t, []string{"eng"}, cfg.OCRLanguages)
	assert.Equal(t, 2*time.Minute, cfg.TikaTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.StateDir)
}

func TestLoadConfig_Flags(t *testing.T) {
	cfg, err := load(t,
		"--max-file-size", "2MiB",
		"--extensions", "pdf,EML",
		"--extensions", "txt",
		"--exclude", "**/*.tmp",
		"--log-level", "WARNING",
		"--format", "yaml",
		"--tika-url", "http://localhost:9998/",
		"in",
	)
	require.NoError(t, err)

	assert.Equal(t, uint64(2<<20), cfg.MaxFileSize)
	assert.Equal(t, []string{"pdf", "EML", "txt"}, cfg.Extensions)
	assert.Equal(t, []string{"**/*.tmp"}, cfg.Exclude)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, "http://localhost:9998", cfg.TikaURL)
}

func TestLoadConfig_EnvOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docparse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-depth: 3\nmax-file-size: 1MB\nformat: yaml\n"), 0o600))
	t.Setenv("DOCPARSE_MAX_DEPTH", "7")

	cfg, err := load(t, "--config", path, "in")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxDepth)
	assert.Equal(t, uint64(1_000_000), cfg.MaxFileSize)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadConfig_FlagOverridesEnv(t *testing.T) {
	t.Setenv("DOCPARSE_MAX_DEPTH", "7")

	cfg, err := load(t, "--max-depth", "2", "in")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDepth)
}

func TestLoadConfig_ZeroSizeDisablesLimit(t *testing.T) {
	cfg, err := load(t, "--max-file-size", "0", "in")
	require.NoError(t, err)
	assert.Zero(t, cfg.MaxFileSize)
}

func TestLoadConfig_IMAPPasswordFromEnv(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")

	cfg, err := load(t, "--imap-host", "mail.example.com", "--imap-user", "me")
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.IMAPPass)
	assert.Empty(t, cfg.InputPath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string][]string{
		"no input":            {},
		"path and imap":       {"--imap-host", "mail.example.com", "--imap-user", "me", "--imap-pass", "x", "in"},
		"imap without user":   {"--imap-host", "mail.example.com", "--imap-pass", "x"},
		"include and exclude": {"--include", "*.txt", "--exclude", "*.tmp", "in"},
		"bad size":            {"--max-file-size", "lots", "in"},
		"size above int64":    {"--max-file-size", "9EiB", "in"},
		"bad unpacked size":   {"--max-unpacked-size", "lots", "in"},
		"huge unpacked size":  {"--max-unpacked-size", "9EiB", "in"},
		"unknown extension":   {"--extensions", "pdf,foo", "in"},
		"bad format":          {"--format", "xml", "in"},
		"bad log level":       {"--log-level", "verbose", "in"},
		"non-positive depth":  {"--max-depth", "0", "in"},
		"missing config file": {"--config", filepath.Join(t.TempDir(), "missing.yaml"), "in"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("IMAP_PASS", "")
			_, err := load(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_BraceGlobKeptWhole(t *testing.T) {
	cfg, err := load(t, "--exclude", "**/*.{tmp,bak}", "in")
	require.NoError(t, err)
	assert.Equal(t, []string{"**/*.{tmp,bak}"}, cfg.Exclude)
}

func TestLoadConfig_UnknownExtensionListsKnownTags(t *testing.T) {
	_, err := load(t, "--extensions", "foo", "in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"foo"`)
	assert.Contains(t, err.Error(), "pdf")
	assert.Contains(t, err.Error(), "eml")
}

func TestLoadConfig_ExtensionAliasesAccepted(t *testing.T) {
	cfg, err := load(t, "--extensions", ".PDF,Eml", "in")
	require.NoError(t, err)
	assert.Equal(t, []string{".PDF", "Eml"}, cfg.Extensions)
}
