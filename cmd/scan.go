package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dhcgn/docparse/classify"
	"github.com/dhcgn/docparse/config"
	"github.com/dhcgn/docparse/filter"
	"github.com/dhcgn/docparse/stats"
)

// LoggerFunc builds the process logger from the loaded config. The returned
// cleanup closes any log file.
type LoggerFunc func(cfg config.Config) (*slog.Logger, func() error, error)

// unknownExtension is the histogram key for files that could not be classified.
const unknownExtension = "(unknown)"

type scanRow struct {
	Path      string
	Extension string
	Size      int64
	Err       error
}

// NewScanCommand returns the "scan" subcommand. It classifies every file below
// a path without extracting anything.
func NewScanCommand(newLogger LoggerFunc) *cobra.Command {
	var (
		reportPath string
		topN       int
	)

	scanCmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Classify the files below a path and show an extension histogram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			f, err := filter.New(filter.Options{Include: cfg.Include, Exclude: cfg.Exclude})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Scanning:", cfg.InputPath)

			rows, err := scanTree(ctx, cfg.InputPath, f, classify.New(logger), logger)
			if err != nil {
				return fmt.Errorf("scan %s: %w", cfg.InputPath, err)
			}

			counts := histogram(rows)
			var unknown, unreadable int
			for _, row := range rows {
				switch {
				case row.Err == nil:
				case unclassified(row.Err):
					unknown++
				default:
					unreadable++
				}
			}
			fmt.Fprintf(out, "Scanned %d files (%d unclassified, %d unreadable)\n\n", len(rows), unknown, unreadable)
			fmt.Fprintf(out, "Top %d extensions:\n", topN)
			stats.PrettyPrintTop(out, counts, topN)

			if reportPath == "" {
				return nil
			}
			if err := saveCSVReport(reportPath, rows); err != nil {
				return fmt.Errorf("error saving CSV report: %w", err)
			}
			fmt.Fprintf(out, "\nReport saved to: %s\n", reportPath)
			return nil
		},
	}

	scanCmd.Flags().StringVar(&reportPath, "report", "docparse-scan.csv", "CSV report with one row per file, empty disables it")
	scanCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of extensions to display")
	return scanCmd
}

// scanTree classifies every regular file below root in lexical order. A root
// that is a single file yields a single row.
func scanTree(ctx context.Context, root string, f *filter.Filter, c *classify.Classifier, logger *slog.Logger) ([]scanRow, error) {
	var rows []scanRow
	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if name == root {
				return err
			}
			logger.Warn("unreadable entry", "path", name, "err", err)
			rows = append(rows, scanRow{Path: filepath.ToSlash(name), Err: err})
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if name != root {
			rel, relErr := filepath.Rel(root, name)
			if relErr == nil && !f.Allows(filepath.ToSlash(rel)) {
				return nil
			}
		}

		row := scanRow{Path: filepath.ToSlash(name)}
		if info, infoErr := d.Info(); infoErr == nil {
			row.Size = info.Size()
		}
		row.Extension, row.Err = c.Classify(ctx, name, "")
		if row.Err != nil {
			logger.Debug("unclassified", "path", name, "err", row.Err)
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func histogram(rows []scanRow) map[string]int {
	counts := make(map[string]int)
	for _, row := range rows {
		ext := row.Extension
		if ext == "" {
			ext = unknownExtension
		}
		counts[ext]++
	}
	return counts
}

func saveCSVReport(path string, rows []scanRow) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	err = writeCSVReport(file, rows)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func writeCSVReport(w io.Writer, rows []scanRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"path", "extension", "size", "error"}); err != nil {
		return err
	}
	for _, row := range rows {
		var errText string
		if row.Err != nil {
			errText = row.Err.Error()
		}
		record := []string{row.Path, row.Extension, strconv.FormatInt(row.Size, 10), errText}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// unclassified reports whether err means the file type is unknown rather than
// unreadable.
func unclassified(err error) bool {
	return errors.Is(err, classify.ErrUnsupportedFile)
}
