package report

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// Header returns the report column names.
func Header(taxCurrency string) []string {
	h := []string{"date / time", "exchange", "order id", "trade id"}
	for _, leg := range []string{"sell", "buy", "fee"} {
		h = append(h,
			leg+" amount",
			leg+" currency",
			leg+" exchange rate",
			leg+" exchange rate date / time",
			leg+" exchange rate source",
			fmt.Sprintf("%s value in %s", leg, taxCurrency),
		)
	}
	return append(h,
		"lots",
		"cost "+taxCurrency,
		"buying fees "+taxCurrency,
		"cost + buying fees "+taxCurrency,
		"proceeds "+taxCurrency,
		"selling fees "+taxCurrency,
		"proceeds - selling fees "+taxCurrency,
		"profit / loss "+taxCurrency,
		"unaccounted amount",
	)
}

// cells returns a row's values in Header order. Numbers are decimal.Decimal,
// missing values nil.
func (r Row) cells() []any {
	c := []any{domain.FormatDateTime(r.Time), r.Exchange, r.OrderID, r.TradeID}
	for _, l := range []LegColumns{r.Sell, r.Buy, r.Fee} {
		var rateTime any
		if l.RateTime != nil {
			rateTime = domain.FormatDateTime(*l.RateTime)
		}
		c = append(c, l.Amount, l.Currency, nullable(l.Rate), rateTime, l.RateSource, nullable(l.Value))
	}
	return append(c,
		r.Lots, r.Cost, r.BuyingFees, r.TotalCost, r.Proceeds, r.SellingFees, r.NetProceeds, r.ProfitLoss, r.Unaccounted,
	)
}

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

// summaryCells returns label/value pairs of the summary.
func summaryCells(r Report) [][]any {
	s := r.Summary
	return [][]any{
		{"tax year", r.TaxYear},
		{"tax currency", r.TaxCurrency},
		{"lot ordering", r.Ordering},
		{"disposals", s.Disposals},
		{"disposals with unaccounted amounts", s.Unaccounted},
		{"cost", s.Cost},
		{"buying fees", s.BuyingFees},
		{"proceeds", s.Proceeds},
		{"selling fees", s.SellingFees},
		{"gains", s.Gains},
		{"losses", s.Losses},
		{"profit / loss", s.ProfitLoss},
	}
}

func balanceCells(r Report) [][]any {
	out := [][]any{{"currency", "amount", "lots"}}
	for _, b := range r.Balances {
		out = append(out, []any{b.Currency, b.Amount, b.Lots})
	}
	return out
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// spreadsheetValue converts decimals to float64 for spreadsheet cells.
func spreadsheetValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return toFloat(d)
	}
	return v
}

// textValue renders a cell for text output.
func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return t.String()
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
