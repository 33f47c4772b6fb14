package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dhcgn/docparse/model"
)

// CSVExtractor emits one record per data row, keyed by the header row.
type CSVExtractor struct{}

func (c *CSVExtractor) Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error) {
	data, err := os.ReadFile(doc.Location)
	if err != nil {
		return nil, err
	}
	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if doc.Extension == "tsv" {
		reader.Comma = '\t'
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", ErrExtraction, err)
	}
	header = columnNames(header)

	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv row %d: %v", ErrExtraction, row, err)
		}
		if !emit(rowFields(header, values, row), nil) {
			return nil, nil
		}
	}
}

// SpreadsheetExtractor emits one record per data row of every sheet.
type SpreadsheetExtractor struct{}

func (s *SpreadsheetExtractor) Extract(ctx context.Context, doc model.Document, emit Emit) ([]model.Attachment, error) {
	book, err := excelize.OpenFile(doc.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrExtraction, err)
	}
	defer book.Close()

	for _, sheet := range book.GetSheetList() {
		more, err := s.sheet(ctx, book, sheet, emit)
		if err != nil {
			return nil, err
		}
		if !more {
			return nil, nil
		}
	}
	return nil, nil
}

func (s *SpreadsheetExtractor) sheet(ctx context.Context, book *excelize.File, sheet string, emit Emit) (bool, error) {
	rows, err := book.Rows(sheet)
	if err != nil {
		return false, fmt.Errorf("%w: sheet %q: %v", ErrExtraction, sheet, err)
	}
	defer rows.Close()

	var header []string
	for row := 0; rows.Next(); row++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		values, err := rows.Columns()
		if err != nil {
			return false, fmt.Errorf("%w: sheet %q row %d: %v", ErrExtraction, sheet, row, err)
		}
		if header == nil {
			header = columnNames(values)
			continue
		}
		fields := rowFields(header, values, row)
		fields["sheet"] = sheet
		if !emit(fields, nil) {
			return false, nil
		}
	}
	return true, rows.Error()
}

func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name]++
		names[i] = name
	}
	return names
}

func rowFields(header, values []string, row int) model.Fields {
	fields := make(model.Fields, len(values)+1)
	for i, value := range values {
		key := fmt.Sprintf("column_%d", i+1)
		if i < len(header) {
			key = header[i]
		}
		fields[key] = value
	}
	fields["row"] = row
	return fields
}
