package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// Importer reads trade exports. Trades at or after End are skipped; earlier
// years are kept so acquisitions build up cost basis.
type Importer struct {
	End time.Time
}

// New creates an importer skipping trades at or after end.
func New(end time.Time) *Importer {
	return &Importer{End: end}
}

// ImportAll reads every file of every format. Each trade becomes one order.
func (im *Importer) ImportAll(formats []Format) ([]domain.Order, error) {
	var orders []domain.Order
	for _, f := range formats {
		resolved, err := f.Resolve()
		if err != nil {
			return nil, err
		}
		for _, path := range resolved.Files {
			imported, err := im.ImportFile(resolved, path)
			if err != nil {
				return nil, err
			}
			orders = append(orders, imported...)
		}
	}
	return orders, nil
}

// ImportFile reads one export file.
func (im *Importer) ImportFile(f Format, path string) ([]domain.Order, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	orders, err := im.Read(f, file)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", path, err)
	}
	slog.Info("Importer: imported trades", "exchange", f.Exchange, "file", path, "orders", len(orders))
	return orders, nil
}

// Read parses an export in format f.
func (im *Importer) Read(f Format, r io.Reader) ([]domain.Order, error) {
	f, err := f.Resolve()
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comma = []rune(f.Delimiter)[0]

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cr, err := newColumnReader(f, header)
	if err != nil {
		return nil, err
	}

	var orders []domain.Order
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		trade, err := im.trade(cr.row(row))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if trade == nil {
			continue
		}
		orders = append(orders, domain.Order{
			SourceID: trade.SourceID,
			Exchange: f.Exchange,
			Trades:   []*domain.Trade{trade},
		})
	}
	return orders, nil
}

// trade builds the SELL, BUY and FEE legs of one row, or nil when the
// row is dated at or after End.
func (im *Importer) trade(row rowReader) (*domain.Trade, error) {
	date, err := row.get(ColDate)
	if err != nil {
		return nil, err
	}
	ts, err := domain.ParseTime(date)
	if err != nil {
		return nil, err
	}
	if !im.End.IsZero() && !ts.Before(im.End) {
		return nil, nil
	}

	id, err := row.get(ColID)
	if err != nil {
		return nil, err
	}
	baseCurrency, err := row.currency(ColBaseCurrency)
	if err != nil {
		return nil, err
	}
	quoteCurrency, err := row.currency(ColQuoteCurrency)
	if err != nil {
		return nil, err
	}
	feeCurrency, err := row.currency(ColFeeCurrency)
	if err != nil {
		return nil, err
	}
	base, err := row.amount(ColBase)
	if err != nil {
		return nil, err
	}
	price, err := row.amount(ColPrice)
	if err != nil {
		return nil, err
	}
	fee, err := row.amount(ColFee)
	if err != nil {
		return nil, err
	}
	sell, err := row.present(ColSellIndicator)
	if err != nil {
		return nil, err
	}

	base = base.Abs()
	quote := base.Mul(price.Abs()).Round(domain.StorageScale)

	baseType, quoteType := domain.LegBuy, domain.LegSell
	if sell {
		baseType, quoteType = domain.LegSell, domain.LegBuy
	}

	return domain.NewTrade(id, ts, []domain.Leg{
		{Type: baseType, Currency: baseCurrency, Amount: base, Timestamp: ts},
		{Type: quoteType, Currency: quoteCurrency, Amount: quote, Timestamp: ts},
		{Type: domain.LegFee, Currency: feeCurrency, Amount: fee.Abs(), Timestamp: ts},
	}), nil
}

type column struct {
	id    string
	index int
	regex *regexp.Regexp
}

type columnReader struct {
	columns     map[string]column
	currencyMap map[string]string
}

func newColumnReader(f Format, header []string) (*columnReader, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	cr := &columnReader{columns: make(map[string]column), currencyMap: f.CurrencyMap}
	for id, c := range f.Columns {
		i, ok := index[c.Name]
		if !ok {
			return nil, fmt.Errorf("configured column %q not found in file: %w", c.Name, ErrColumn)
		}
		col := column{id: id, index: i}
		if c.Regex != "" {
			re, err := regexp.Compile(c.Regex)
			if err != nil {
				return nil, fmt.Errorf("column %s regex: %w", id, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("column %s regex has no match group: %w", id, ErrColumn)
			}
			col.regex = re
		}
		cr.columns[id] = col
	}
	return cr, nil
}

func (cr *columnReader) row(cells []string) rowReader {
	return rowReader{cr: cr, cells: cells}
}

type rowReader struct {
	cr    *columnReader
	cells []string
}

// value returns the cell of a logical column; matched is false when a regex
// column did not match.
func (r rowReader) value(id string) (value string, matched bool, err error) {
	col, ok := r.cr.columns[id]
	if !ok {
		return "", false, fmt.Errorf("missing column configuration %q: %w", id, ErrColumn)
	}
	if col.index >= len(r.cells) {
		return "", false, fmt.Errorf("row has no column %q: %w", id, ErrColumn)
	}
	cell := strings.TrimSpace(r.cells[col.index])
	if col.regex == nil {
		return cell, true, nil
	}
	m := col.regex.FindStringSubmatch(cell)
	if m == nil {
		return "", false, nil
	}
	return m[1], true, nil
}

func (r rowReader) get(id string) (string, error) {
	v, _, err := r.value(id)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("column %q is empty: %w", id, ErrColumn)
	}
	return v, nil
}

func (r rowReader) currency(id string) (string, error) {
	v, err := r.get(id)
	if err != nil {
		return "", err
	}
	mapped, ok := r.cr.currencyMap[v]
	if !ok {
		return v, nil
	}
	if mapped == "" {
		return "", fmt.Errorf("empty currency symbol after mapping %q: %w", v, ErrColumn)
	}
	return mapped, nil
}

func (r rowReader) amount(id string) (decimal.Decimal, error) {
	v, err := r.get(id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return domain.ParseAmount(v)
}

// present reports whether an optional column has a value. An unconfigured
// column is absent.
func (r rowReader) present(id string) (bool, error) {
	if _, ok := r.cr.columns[id]; !ok {
		return false, nil
	}
	v, matched, err := r.value(id)
	if err != nil {
		return false, err
	}
	return matched && v != "", nil
}
