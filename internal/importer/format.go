// Package importer reads exchange trade exports into orders.
package importer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Logical columns of a trade export.
const (
	ColID            = "id"
	ColDate          = "date"
	ColBaseCurrency  = "base-currency"
	ColQuoteCurrency = "quote-currency"
	ColFeeCurrency   = "fee-currency"
	ColBase          = "base"
	ColPrice         = "price"
	ColFee           = "fee"
	ColSellIndicator = "sell-indicator"
)

var requiredColumns = []string{
	ColID, ColDate, ColBaseCurrency, ColQuoteCurrency, ColFeeCurrency, ColBase, ColPrice, ColFee,
}

// ErrColumn marks a column that is not configured, absent from the file or empty.
var ErrColumn = errors.New("column error")

// Column maps a logical column to a CSV header. When Regex is set the cell
// must match it and the first group is the value.
type Column struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Format describes the trade export of one exchange.
type Format struct {
	Exchange    string            `yaml:"exchange"`
	Preset      string            `yaml:"preset"`
	Files       []string          `yaml:"files"`
	Delimiter   string            `yaml:"delimiter"`
	CurrencyMap map[string]string `yaml:"currency-map"`
	Columns     map[string]Column `yaml:"columns"`
}

var presets = map[string]Format{
	"bitfinex": {
		Exchange:  "bitfinex",
		Delimiter: ",",
		Columns: map[string]Column{
			ColID:            {Name: "#"},
			ColDate:          {Name: "Date"},
			ColBaseCurrency:  {Name: "Pair", Regex: `^(.*)/.*$`},
			ColQuoteCurrency: {Name: "Pair", Regex: `^.*/(.*)$`},
			ColFeeCurrency:   {Name: "FeeCurrency", Regex: `^(.*)$`},
			ColBase:          {Name: "Amount"},
			ColPrice:         {Name: "Price"},
			ColFee:           {Name: "Fee"},
			ColSellIndicator: {Name: "Amount", Regex: `^(-).*$`},
		},
	},
	"kraken": {
		Exchange:    "kraken",
		Delimiter:   ",",
		CurrencyMap: map[string]string{"XXBT": "BTC", "XETH": "ETH", "ZUSD": "USD", "ZEUR": "EUR"},
		Columns: map[string]Column{
			ColID:            {Name: "txid"},
			ColDate:          {Name: "time"},
			ColBaseCurrency:  {Name: "pair", Regex: `^(.{4}).{4}$`},
			ColQuoteCurrency: {Name: "pair", Regex: `^.{4}(.{4})$`},
			ColFeeCurrency:   {Name: "pair", Regex: `^.{4}(.{4})$`},
			ColBase:          {Name: "vol"},
			ColPrice:         {Name: "price"},
			ColFee:           {Name: "fee"},
			ColSellIndicator: {Name: "type", Regex: `^(sell)$`},
		},
	},
}

// Preset returns a built-in format by name.
func Preset(name string) (Format, bool) {
	f, ok := presets[name]
	return f, ok
}

// PresetNames lists the built-in formats.
func PresetNames() []string {
	names := lo.Keys(presets)
	slices.Sort(names)
	return names
}

// Resolve fills unset fields from the preset and checks required columns.
// Explicit columns and currency mappings override the preset's.
func (f Format) Resolve() (Format, error) {
	if f.Preset != "" {
		p, ok := presets[f.Preset]
		if !ok {
			return Format{}, fmt.Errorf("unknown preset %q", f.Preset)
		}
		if f.Exchange == "" {
			f.Exchange = p.Exchange
		}
		if f.Delimiter == "" {
			f.Delimiter = p.Delimiter
		}
		f.Columns = lo.Assign(p.Columns, f.Columns)
		f.CurrencyMap = lo.Assign(p.CurrencyMap, f.CurrencyMap)
	}
	if f.Exchange == "" {
		return Format{}, errors.New("format needs an exchange")
	}
	if f.Delimiter == "" {
		f.Delimiter = ","
	}
	for _, c := range requiredColumns {
		col, ok := f.Columns[c]
		if !ok || col.Name == "" {
			return Format{}, fmt.Errorf("exchange %s: missing column configuration %q: %w", f.Exchange, c, ErrColumn)
		}
	}
	return f, nil
}
