package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// CSVWriter writes the report rows as CSV.
type CSVWriter struct {
	path string
	out  io.Writer
}

// NewCSVWriter writes to out.
func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{out: out}
}

// NewCSVFileWriter creates or truncates path on every Write.
func NewCSVFileWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

func (w *CSVWriter) Write(_ context.Context, r Report) error {
	out := w.out
	if w.path != "" {
		f, err := os.Create(w.path)
		if err != nil {
			return fmt.Errorf("creating report %s: %w", w.path, err)
		}
		defer f.Close()
		out = f
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(Header(r.TaxCurrency)); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}
	for _, row := range r.Rows {
		cells := row.cells()
		record := make([]string, len(cells))
		for i, c := range cells {
			record[i] = textValue(c)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing report row %s: %w", row.TradeID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
