package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"receipts/internal"
)

// RecordSink receives one extracted record per document, in input order.
type RecordSink interface {
	Write(source string, rec internal.Record) error
	Close() error
}

// TSVSink prints supplier, amount and date tab separated, one row per record.
type TSVSink struct {
	w io.Writer
}

func NewTSVSink(w io.Writer) *TSVSink {
	return &TSVSink{w: w}
}

func (s *TSVSink) Write(_ string, rec internal.Record) error {
	_, err := fmt.Fprintf(s.w, "%s\t%s\t%s\n", rec.Supplier, rec.Amount, rec.Date)
	return err
}

func (s *TSVSink) Close() error { return nil }

// XLSXSink collects records and saves them as a spreadsheet on Close.
type XLSXSink struct {
	path string
	f    *excelize.File
	row  int
}

func NewXLSXSink(path string) *XLSXSink {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, h := range []string{"supplier", "amount", "date", "file"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	return &XLSXSink{path: path, f: f, row: 1}
}

func (s *XLSXSink) Write(source string, rec internal.Record) error {
	s.row++
	sheet := s.f.GetSheetName(0)
	set := func(col int, value any) error {
		cell, err := excelize.CoordinatesToCellName(col, s.row)
		if err != nil {
			return err
		}
		return s.f.SetCellValue(sheet, cell, value)
	}

	var amount any = rec.Amount
	if d, err := AmountDecimal(rec.Amount); err == nil {
		amount = d.InexactFloat64()
	}
	return errors.Join(
		set(1, rec.Supplier),
		set(2, amount),
		set(3, rec.Date),
		set(4, filepath.Base(source)),
	)
}

func (s *XLSXSink) Close() error {
	defer s.f.Close()
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return s.f.SaveAs(s.path)
}

// MultiSink fans every record out to all sinks.
type MultiSink []RecordSink

func (m MultiSink) Write(source string, rec internal.Record) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Write(source, rec))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
