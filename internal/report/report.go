// Package report turns disposals into tax report rows and writes them as CSV,
// XLSX or Google Sheets.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/balance"
	"github.com/mtlprog/ctax/internal/domain"
)

// LegColumns are the report columns of one leg.
type LegColumns struct {
	Amount     decimal.Decimal     `json:"amount"`
	Currency   string              `json:"currency"`
	Rate       decimal.NullDecimal `json:"rate"`
	RateTime   *time.Time          `json:"rateTime,omitempty"`
	RateSource string              `json:"rateSource,omitempty"`
	Value      decimal.NullDecimal `json:"value"`
}

// Row is one disposal in the report. Monetary totals are in tax currency.
type Row struct {
	Time        time.Time       `json:"time"`
	Exchange    string          `json:"exchange"`
	OrderID     string          `json:"orderId"`
	TradeID     string          `json:"tradeId"`
	Sell        LegColumns      `json:"sell"`
	Buy         LegColumns      `json:"buy"`
	Fee         LegColumns      `json:"fee"`
	Lots        string          `json:"lots"`
	Cost        decimal.Decimal `json:"cost"`
	BuyingFees  decimal.Decimal `json:"buyingFees"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	SellingFees decimal.Decimal `json:"sellingFees"`
	NetProceeds decimal.Decimal `json:"netProceeds"`
	ProfitLoss  decimal.Decimal `json:"profitLoss"`
	Unaccounted decimal.Decimal `json:"unaccounted"`
}

// HasUnaccounted reports whether part of the disposal had no acquisition.
func (r Row) HasUnaccounted() bool {
	return r.Unaccounted.IsPositive()
}

// Summary totals a report.
type Summary struct {
	Disposals   int             `json:"disposals"`
	Unaccounted int             `json:"unaccounted"`
	Cost        decimal.Decimal `json:"cost"`
	BuyingFees  decimal.Decimal `json:"buyingFees"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	SellingFees decimal.Decimal `json:"sellingFees"`
	Gains       decimal.Decimal `json:"gains"`
	Losses      decimal.Decimal `json:"losses"`
	ProfitLoss  decimal.Decimal `json:"profitLoss"`
}

// Report is the result of a calculation run.
type Report struct {
	TaxYear     int                       `json:"taxYear"`
	TaxCurrency string                    `json:"taxCurrency"`
	Ordering    string                    `json:"ordering"`
	Rows        []Row                     `json:"rows"`
	Summary     Summary                   `json:"summary"`
	Balances    []balance.CurrencyBalance `json:"balances"`
}

// Writer writes a report to a destination.
type Writer interface {
	Write(ctx context.Context, r Report) error
}

// Summarize totals rows.
func Summarize(rows []Row) Summary {
	return lo.Reduce(rows, func(acc Summary, r Row, _ int) Summary {
		acc.Disposals++
		if r.HasUnaccounted() {
			acc.Unaccounted++
		}
		acc.Cost = acc.Cost.Add(r.Cost)
		acc.BuyingFees = acc.BuyingFees.Add(r.BuyingFees)
		acc.Proceeds = acc.Proceeds.Add(r.Proceeds)
		acc.SellingFees = acc.SellingFees.Add(r.SellingFees)
		acc.ProfitLoss = acc.ProfitLoss.Add(r.ProfitLoss)
		switch {
		case r.ProfitLoss.IsPositive():
			acc.Gains = acc.Gains.Add(r.ProfitLoss)
		case r.ProfitLoss.IsNegative():
			acc.Losses = acc.Losses.Add(r.ProfitLoss)
		}
		return acc
	}, Summary{
		Cost:        decimal.Zero,
		BuyingFees:  decimal.Zero,
		Proceeds:    decimal.Zero,
		SellingFees: decimal.Zero,
		Gains:       decimal.Zero,
		Losses:      decimal.Zero,
		ProfitLoss:  decimal.Zero,
	})
}

// Builder turns disposals of the tax year into rows.
type Builder struct {
	TaxCurrency string
	From, To    time.Time
	// IncludeTaxCurrency keeps disposals of the tax currency itself.
	IncludeTaxCurrency bool
	Money              domain.Money
	Formatter          domain.Formatter
}

// Row builds the row of a disposal. ok is false when the disposal is skipped:
// nothing was sold, it lies outside the tax year, or it sold tax currency.
func (b Builder) Row(order domain.Order, d balance.Disposal) (row Row, ok bool, err error) {
	t := d.Trade
	if d.Amount.IsZero() {
		return Row{}, false, nil
	}
	if t.Timestamp.Before(b.From) || !t.Timestamp.Before(b.To) {
		return Row{}, false, nil
	}
	if d.Currency == b.TaxCurrency && !b.IncludeTaxCurrency {
		return Row{}, false, nil
	}

	row = Row{
		Time:        t.Timestamp,
		Exchange:    order.Exchange,
		OrderID:     order.SourceID,
		TradeID:     t.SourceID,
		Lots:        b.lots(d),
		Cost:        d.Cost,
		BuyingFees:  d.BuyingFees,
		TotalCost:   d.TotalCost(),
		Proceeds:    d.Proceeds,
		SellingFees: d.SellingFees,
		NetProceeds: d.NetProceeds(),
		ProfitLoss:  d.ProfitLoss,
		Unaccounted: d.UnaccountedAmount,
	}
	for _, target := range []struct {
		typ domain.LegType
		dst *LegColumns
	}{
		{domain.LegSell, &row.Sell},
		{domain.LegBuy, &row.Buy},
		{domain.LegFee, &row.Fee},
	} {
		l, err := t.Leg(target.typ)
		if err != nil {
			return Row{}, false, err
		}
		cols, err := b.legColumns(l)
		if err != nil {
			return Row{}, false, fmt.Errorf("trade %q: %w", t.SourceID, err)
		}
		*target.dst = cols
	}
	return row, true, nil
}

func (b Builder) legColumns(l domain.Leg) (LegColumns, error) {
	cols := LegColumns{Amount: l.Amount, Currency: l.Currency, Value: l.ConvertedAmount}
	if l.Rate == nil {
		return cols, nil
	}
	factor, ok, err := l.Rate.RateFor(l.Currency, b.TaxCurrency, b.Money)
	if err != nil {
		return LegColumns{}, err
	}
	if ok {
		cols.Rate = decimal.NewNullDecimal(factor)
	}
	ts := l.Rate.Timestamp
	cols.RateTime = &ts
	cols.RateSource = l.Rate.SourceName()
	return cols, nil
}

// lots renders the matched acquisitions, e.g.
// "0.50000 BTC of t1 (01.02.2018) = 250.00 EUR; 0.20000 BTC unaccounted".
func (b Builder) lots(d balance.Disposal) string {
	parts := lo.Map(d.Matches, func(m balance.Match, _ int) string {
		amount := b.Formatter.Format(m.Fragment.Amount, d.Currency)
		if m.Unaccounted() {
			return amount + " unaccounted"
		}
		origin := m.Fragment.Trade
		return fmt.Sprintf("%s of %s (%s) = %s", amount, origin.SourceID,
			domain.FormatDate(origin.Timestamp), b.Formatter.Format(m.Cost, b.TaxCurrency))
	})
	return strings.Join(parts, "; ")
}

// RenderDisposal is a one-line human readable summary of a disposal.
func RenderDisposal(d balance.Disposal, taxCurrency string, f domain.Formatter) string {
	return fmt.Sprintf("total: sold %s cost %s, proceeds %s P/L: %s",
		f.Format(d.Amount, d.Currency),
		f.Format(d.Cost, taxCurrency),
		f.Format(d.Proceeds, taxCurrency),
		f.Format(d.ProfitLoss, taxCurrency))
}
