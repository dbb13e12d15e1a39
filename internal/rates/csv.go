package rates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mtlprog/ctax/internal/domain"
)

// FileSpec describes a CSV exchange rate file. The header row lists the quote
// currencies after a leading date column; each cell is the base → quote rate.
// Rates are rounded to the storage scale.
type FileSpec struct {
	ID               string `yaml:"id"`
	ShortDescription string `yaml:"short-description"`
	LongDescription  string `yaml:"long-description"`
	File             string `yaml:"file"`
	Delimiter        string `yaml:"delimiter"`
	EmptyMarker      string `yaml:"empty-marker"`
	BaseCurrency     string `yaml:"base-currency"`
}

// LoadFile reads the rate file of spec into book, keeping rows dated in
// [from, to). It returns the number of rates added.
func LoadFile(book *Book, spec FileSpec, from, to time.Time) (int, error) {
	f, err := os.Open(spec.File)
	if err != nil {
		return 0, fmt.Errorf("opening rate file %s: %w", spec.File, err)
	}
	defer f.Close()

	slog.Info("Rates: importing rate file", "source", spec.ID, "file", spec.File)
	n, err := LoadCSV(book, spec, f, from, to)
	if err != nil {
		return 0, fmt.Errorf("rate file %s: %w", spec.File, err)
	}
	return n, nil
}

// LoadCSV reads rates in the layout described by spec from r.
func LoadCSV(book *Book, spec FileSpec, r io.Reader, from, to time.Time) (int, error) {
	if spec.ID == "" || spec.BaseCurrency == "" {
		return 0, errors.New("rate file needs an id and a base currency")
	}
	source := &domain.RateSource{
		SourceID:         spec.ID,
		ShortDescription: spec.ShortDescription,
		LongDescription:  spec.LongDescription,
	}
	if err := book.AddSource(source); err != nil {
		return 0, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if spec.Delimiter != "" {
		reader.Comma = []rune(spec.Delimiter)[0]
	}

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}

	var rates []domain.ExchangeRate
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}

		ts, err := domain.ParseTime(row[0])
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		if ts.Before(from) || !ts.Before(to) {
			continue
		}

		for col := 1; col < len(header) && col < len(row); col++ {
			cell := strings.TrimSpace(row[col])
			if cell == "" || (spec.EmptyMarker != "" && cell == spec.EmptyMarker) {
				continue
			}
			rate, err := domain.ParseAmount(cell)
			if err != nil {
				return 0, fmt.Errorf("line %d column %s: %w", line, header[col], err)
			}
			rates = append(rates, domain.ExchangeRate{
				Base:      spec.BaseCurrency,
				Quote:     strings.TrimSpace(header[col]),
				Rate:      rate.Round(domain.StorageScale),
				Timestamp: ts,
				Source:    source,
			})
		}
	}

	book.Add(rates...)
	return len(rates), nil
}
