package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Sheet names of spreadsheet reports.
const (
	SheetDisposals = "Disposals"
	SheetSummary   = "Summary"
	SheetBalances  = "Balances"
)

// XLSXWriter writes the report as an Excel workbook with disposal, summary
// and balance sheets.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer saving to path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

func (w *XLSXWriter) Write(_ context.Context, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDisposals); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	for _, name := range []string{SheetSummary, SheetBalances} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	if err := writeRows(f, SheetDisposals, disposalValues(r)); err != nil {
		return err
	}
	if err := writeRows(f, SheetSummary, summaryCells(r)); err != nil {
		return err
	}
	if err := writeRows(f, SheetBalances, balanceCells(r)); err != nil {
		return err
	}
	if err := f.SetPanes(SheetDisposals, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving %s: %w", w.path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = spreadsheetValue(v)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// disposalValues returns the header and all rows.
func disposalValues(r Report) [][]any {
	header := Header(r.TaxCurrency)
	out := make([][]any, 0, len(r.Rows)+1)
	h := make([]any, len(header))
	for i, s := range header {
		h[i] = s
	}
	out = append(out, h)
	for _, row := range r.Rows {
		out = append(out, row.cells())
	}
	return out
}
