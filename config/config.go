package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/docparse/classify"
)

// EnvPrefix prefixes environment overrides, e.g. DOCPARSE_MAX_FILE_SIZE.
const EnvPrefix = "DOCPARSE"

// Config captures all options required to run a parse.
type Config struct {
	InputPath string
	Output    string
	Format    string

	// MaxFileSize is in bytes. Zero disables the limit.
	MaxFileSize uint64
	// MaxUnpackedSize bounds what one archive may expand to. Zero disables it.
	MaxUnpackedSize uint64
	MaxDepth        int
	MaxEntries      int
	ScratchDir      string
	Extensions      []string
	Include         []string
	Exclude         []string

	StateDir string
	DryRun   bool

	TikaURL      string
	TikaTimeout  time.Duration
	OCR          bool
	OCRLanguages []string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string
	IMAPLimit          int

	LogLevel   string
	LogDir     string
	Progress   bool
	ConfigFile string
}

// RegisterFlags attaches the shared CLI flags to cmd. They are persistent so
// subcommands inherit them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file; flags and DOCPARSE_* env vars override it")
	flags.StringP("output", "o", "-", "Output file for records, - for stdout")
	flags.String("format", "jsonl", "Output format: jsonl or yaml")
	flags.String("max-file-size", "100MB", "Skip extraction of larger files, 0 disables the limit")
	flags.String("max-unpacked-size", "10GB", "Stop unpacking an archive once it expands past this size, 0 disables the limit")
	flags.Int("max-depth", 5, "Maximum nesting of archives and attachments")
	flags.Int("max-entries", 10000, "Maximum files extracted from one archive")
	flags.String("scratch-dir", "", "Parent directory for temporary files (default: OS temp dir)")
	flags.StringSlice("extensions", nil, "Only extract these extension tags, e.g. pdf,docx,eml")
	flags.StringArray("include", nil, "Glob allow-list for paths below the input directory (mutually exclusive with --exclude)")
	flags.StringArray("exclude", nil, "Glob block-list for paths below the input directory (mutually exclusive with --include)")
	flags.String("state-dir", "", "Directory for incremental state; unchanged files are skipped on later runs")
	flags.Bool("dry-run", false, "Read the state but do not record new content hashes")
	flags.String("tika-url", "", "Apache Tika server URL used for office documents, pdf and OCR")
	flags.Duration("tika-timeout", 2*time.Minute, "Timeout per Tika request")
	flags.Bool("ocr", false, "Ask Tika to OCR images and scanned pdf pages")
	flags.StringSlice("ocr-languages", []string{"eng"}, "Tesseract languages for OCR")
	flags.String("imap-host", "", "Parse messages from this IMAP server instead of a path")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to DOCPARSE_IMAP_PASS or IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "IMAP folder to read")
	flags.Int("imap-limit", 0, "Only fetch the newest N messages, 0 fetches all")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a file in this directory")
	flags.Bool("progress", false, "Show a progress bar on stderr")
	return nil
}

// LoadConfig merges flags, environment and the optional config file, then
// validates the result. Flags set on the command line win over the
// environment, which wins over the config file.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	configFile := v.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	maxFileSize, err := parseSize("max-file-size", v.GetString("max-file-size"))
	if err != nil {
		return Config{}, err
	}
	maxUnpackedSize, err := parseSize("max-unpacked-size", v.GetString("max-unpacked-size"))
	if err != nil {
		return Config{}, err
	}

	imapPass := v.GetString("imap-pass")
	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	var inputPath string
	if len(args) > 0 {
		inputPath = args[0]
	}

	stateDir := v.GetString("state-dir")
	if stateDir != "" {
		stateDir = filepath.Clean(stateDir)
	}

	cfg := Config{
		InputPath:          inputPath,
		Output:             v.GetString("output"),
		Format:             strings.ToLower(v.GetString("format")),
		MaxFileSize:        maxFileSize,
		MaxUnpackedSize:    maxUnpackedSize,
		MaxDepth:           v.GetInt("max-depth"),
		MaxEntries:         v.GetInt("max-entries"),
		ScratchDir:         v.GetString("scratch-dir"),
		Extensions:         splitList(v.GetStringSlice("extensions")),
		Include:            globList(cmd, v, "include"),
		Exclude:            globList(cmd, v, "exclude"),
		StateDir:           stateDir,
		DryRun:             v.GetBool("dry-run"),
		TikaURL:            strings.TrimRight(v.GetString("tika-url"), "/"),
		TikaTimeout:        v.GetDuration("tika-timeout"),
		OCR:                v.GetBool("ocr"),
		OCRLanguages:       splitList(v.GetStringSlice("ocr-languages")),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           imapPass,
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPFolder:         v.GetString("imap-folder"),
		IMAPLimit:          v.GetInt("imap-limit"),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
		Progress:           v.GetBool("progress"),
		ConfigFile:         configFile,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InputPath == "" && cfg.IMAPHost == "" {
		return errors.New("an input path or --imap-host is required")
	}
	if cfg.InputPath != "" && cfg.IMAPHost != "" {
		return errors.New("an input path and --imap-host are mutually exclusive")
	}
	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass, DOCPARSE_IMAP_PASS or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.IMAPLimit < 0 {
			return fmt.Errorf("--imap-limit must not be negative")
		}
	}
	if len(cfg.Include) > 0 && len(cfg.Exclude) > 0 {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}
	if cfg.MaxDepth <= 0 {
		return fmt.Errorf("--max-depth must be positive")
	}
	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("--max-entries must be positive")
	}
	if cfg.MaxFileSize > math.MaxInt64 {
		return fmt.Errorf("--max-file-size must not exceed %s", humanize.IBytes(math.MaxInt64))
	}
	if cfg.MaxUnpackedSize > math.MaxInt64 {
		return fmt.Errorf("--max-unpacked-size must not exceed %s", humanize.IBytes(math.MaxInt64))
	}
	for _, ext := range cfg.Extensions {
		if !classify.Known(classify.Normalize(ext)) {
			return fmt.Errorf("unknown --extensions tag %q, known tags: %s", ext, strings.Join(classify.KnownTags(), ", "))
		}
	}

	switch cfg.Format {
	case "jsonl", "json", "yaml", "yml":
	default:
		return fmt.Errorf("invalid --format: %s", cfg.Format)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func parseSize(flag, s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", flag, s, err)
	}
	return n, nil
}

// globList reads a glob flag verbatim. Viper splits flag values on commas,
// which would break brace patterns like "*.{tmp,bak}".
func globList(cmd *cobra.Command, v *viper.Viper, name string) []string {
	if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
		if values, err := cmd.Flags().GetStringArray(name); err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

// splitList accepts both repeated values and comma separated ones, as env
// vars and config files deliver either.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
