package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet     = "Prices"
	xlsxTimestamp = time.RFC3339Nano
)

var xlsxHeader = []interface{}{"Symbol", "Price", "Last Updated"}

// XLSXFile stores records in a spreadsheet, one row per symbol under a
// Symbol | Price | Last Updated header. Rows for other symbols and any other
// sheets in the workbook are preserved across writes.
type XLSXFile struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewXLSXFile creates a spreadsheet store at path.
func NewXLSXFile(fs afero.Fs, path string, logger *slog.Logger) *XLSXFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXFile{fs: fs, path: path, logger: logger}
}

// open returns the workbook at path, a new workbook when the file is
// missing, or ErrCorrupt.
func (s *XLSXFile) open() (*excelize.File, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if isNotExist(err) {
			return newWorkbook()
		}
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	wb, err := excelize.OpenReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	idx, err := wb.GetSheetIndex(xlsxSheet)
	if err != nil {
		wb.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if idx == -1 {
		if _, err := wb.NewSheet(xlsxSheet); err != nil {
			wb.Close()
			return nil, fmt.Errorf("failed to add sheet %s: %w", xlsxSheet, err)
		}
	}
	return wb, nil
}

func newWorkbook() (*excelize.File, error) {
	wb := excelize.NewFile()
	if err := wb.SetSheetName(wb.GetSheetName(0), xlsxSheet); err != nil {
		wb.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	return wb, nil
}

// Load returns the records on the Prices sheet.
func (s *XLSXFile) Load(ctx context.Context) (map[string]PriceRecord, error) {
	wb, err := s.open()
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	rows, err := wb.GetRows(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	records := make(map[string]PriceRecord, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		rec := PriceRecord{}
		if len(row) > 1 {
			rec.Price = row[1]
		}
		if len(row) > 2 {
			if ts, err := ParseTimestamp(row[2]); err == nil {
				rec.LastUpdated = ts
			}
		}
		records[row[0]] = rec
	}
	return records, nil
}

// Put updates the row for symbol in place, or appends one, and rewrites
// the workbook.
func (s *XLSXFile) Put(ctx context.Context, symbol string, rec PriceRecord) error {
	wb, err := s.open()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		s.logger.Error("output spreadsheet is corrupt, starting with an empty workbook",
			"path", s.path,
			"error", err)
		if wb, err = newWorkbook(); err != nil {
			return err
		}
	}
	defer wb.Close()

	rows, err := wb.GetRows(xlsxSheet)
	if err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}

	if len(rows) == 0 {
		if err := wb.SetSheetRow(xlsxSheet, "A1", &xlsxHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		rows = [][]string{{"Symbol"}}
	}

	target := len(rows) + 1
	for i, row := range rows {
		if i > 0 && len(row) > 0 && row[0] == symbol {
			target = i + 1
			break
		}
	}

	cell, err := excelize.CoordinatesToCellName(1, target)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", target, err)
	}
	values := []interface{}{symbol, rec.Price, rec.LastUpdated.Format(xlsxTimestamp)}
	if err := wb.SetSheetRow(xlsxSheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row for %s: %w", symbol, err)
	}

	return replaceFile(s.fs, s.path, func(w io.Writer) error {
		if err := wb.Write(w); err != nil {
			return fmt.Errorf("failed to encode workbook: %w", err)
		}
		return nil
	})
}

// Close implements Store.
func (s *XLSXFile) Close() error {
	return nil
}
