package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/docparse/cmd"
	"github.com/dhcgn/docparse/config"
	"github.com/dhcgn/docparse/extract"
	"github.com/dhcgn/docparse/filter"
	"github.com/dhcgn/docparse/imap"
	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/parser"
	"github.com/dhcgn/docparse/progress"
	"github.com/dhcgn/docparse/runner"
	"github.com/dhcgn/docparse/sink"
	"github.com/dhcgn/docparse/state"
	"github.com/dhcgn/docparse/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docparse [path]",
		Short: "Extract structured text records from files, archives and mailboxes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting docparse", "path", cfg.InputPath, "imapHost", cfg.IMAPHost, "output", cfg.Output, "dryRun", cfg.DryRun)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewScanCommand(setupLogger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(ctx, logger)
	stats.NewReporter(r, logger)

	var tracker state.Tracker
	var known int
	if cfg.StateDir != "" {
		ft, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
		if err != nil {
			return fmt.Errorf("state.NewFileTracker: %w", err)
		}
		defer func() {
			snap := ft.Snapshot()
			logger.Info("state updated", "dir", cfg.StateDir, "known", snap.Processed, "added", snap.Added, "dryRun", cfg.DryRun)
			if err := ft.Close(); err != nil {
				logger.Warn("closing state failed", "err", err)
			}
		}()
		tracker = ft
		known = ft.Snapshot().Processed
	}

	f, err := filter.New(filter.Options{Include: cfg.Include, Exclude: cfg.Exclude})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}
	if f.Active() {
		logger.Info("path filter active", "include", cfg.Include, "exclude", cfg.Exclude)
	}

	var tika extract.TextExtractor
	if cfg.TikaURL != "" {
		tika = extract.NewTika(cfg.TikaURL, cfg.OCR, cfg.OCRLanguages, cfg.TikaTimeout)
	}
	registry := extract.NewDefaultRegistry(tika, logger)

	// validateConfig keeps both sizes within int64
	maxFileSize := int64(cfg.MaxFileSize)
	if cfg.MaxFileSize == 0 {
		maxFileSize = -1
	}
	p := parser.New(parser.Options{
		MaxFileSize:     maxFileSize,
		MaxDepth:        cfg.MaxDepth,
		MaxEntries:      cfg.MaxEntries,
		MaxUnpackedSize: int64(cfg.MaxUnpackedSize),
		ScratchRoot:     cfg.ScratchDir,
		Extensions:      cfg.Extensions,
		Filter:          f,
		Tracker:         tracker,
	}, registry, logger)

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}
	parser.NewProducer(p, source, r, logger)

	format, err := sink.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	w, err := sink.Open(cfg.Output, format)
	if err != nil {
		return fmt.Errorf("sink.Open: %w", err)
	}
	sink.NewConsumer(w, r, logger)

	if cfg.Progress && cfg.InputPath != "" {
		total, err := p.CountDocuments(cfg.InputPath)
		if err != nil {
			logger.Warn("counting documents failed", "err", err)
		}
		bar := progress.New(total, known, cfg.LogLevel)
		progress.NewProgressReporter(r, bar, logger)
	}

	return r.Start()
}

// newSource returns the top-level inputs: the path argument, or every message
// of an IMAP folder.
func newSource(cfg config.Config, logger *slog.Logger) (parser.Source, error) {
	if cfg.IMAPHost == "" {
		return parser.Inputs{{Path: cfg.InputPath}}, nil
	}

	fetcher, err := imap.NewFetcher(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Folder:             cfg.IMAPFolder,
		Limit:              cfg.IMAPLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("imap.NewFetcher: %w", err)
	}

	return parser.SourceFunc(func(ctx context.Context, fn func(parser.Input) error) error {
		return fetcher.Fetch(ctx, func(msg imap.Message) error {
			return fn(parser.Input{Data: msg.Raw, Name: msg.Name, Origin: model.OriginIMAP})
		})
	}), nil
}

// setupLogger logs to stderr so that records written to stdout stay clean.
func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("docparse-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
