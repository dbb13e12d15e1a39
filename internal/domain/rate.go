package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSource describes where exchange rates came from (website, file or implicit).
type RateSource struct {
	ID               int64  `json:"id,omitempty"`
	SourceID         string `json:"sourceId"`
	ShortDescription string `json:"shortDescription"`
	LongDescription  string `json:"longDescription"`
}

// Built-in rate sources.
var (
	CoinGeckoSource = &RateSource{
		SourceID:         "coingecko",
		ShortDescription: "coingecko.com",
		LongDescription:  "crypto currency exchange rate queried from https://api.coingecko.com/",
	}
	FrankfurterSource = &RateSource{
		SourceID:         "frankfurter",
		ShortDescription: "frankfurter.app",
		LongDescription:  "fiat exchange rate queried from https://api.frankfurter.app/",
	}
	ImplicitSource = &RateSource{
		SourceID:         "implicit",
		ShortDescription: "(implicit)",
		LongDescription:  "implicit exchange rate",
	}
)

// ExchangeRate converts Base into Quote at Timestamp: base amount × Rate = quote amount.
type ExchangeRate struct {
	ID        int64           `json:"id,omitempty"`
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
	Source    *RateSource     `json:"source,omitempty"`
}

// CanConvert reports whether the rate converts between a and b in either direction.
func (r ExchangeRate) CanConvert(a, b string) bool {
	return (a == r.Base && b == r.Quote) || (a == r.Quote && b == r.Base)
}

// RateFor returns the factor converting base into quote, inverting the stored
// rate when the pair is reversed. ok is false when the currencies do not match.
func (r ExchangeRate) RateFor(base, quote string, m Money) (rate decimal.Decimal, ok bool, err error) {
	switch {
	case base == r.Base && quote == r.Quote:
		return r.Rate, true, nil
	case base == r.Quote && quote == r.Base:
		inv, err := m.Div(decimal.NewFromInt(1), r.Rate)
		if err != nil {
			return decimal.Zero, true, err
		}
		return inv, true, nil
	default:
		return decimal.Zero, false, nil
	}
}

// SourceName returns the source id or an empty string.
func (r ExchangeRate) SourceName() string {
	if r.Source == nil {
		return ""
	}
	return r.Source.SourceID
}
