package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// SymbolMapping maps currency symbols to CoinGecko coin ids.
var SymbolMapping = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"LTC":  "litecoin",
	"XRP":  "ripple",
	"XLM":  "stellar",
	"BCH":  "bitcoin-cash",
	"EOS":  "eos",
	"ETC":  "ethereum-classic",
	"IOTA": "iota",
	"XMR":  "monero",
	"DASH": "dash",
	"ZEC":  "zcash",
	"USDT": "tether",
}

// vsCurrencies are the quote currencies CoinGecko prices coins in.
var vsCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CHF": true, "JPY": true,
	"BTC": true, "ETH": true, "LTC": true, "XRP": true, "XLM": true, "BCH": true, "EOS": true,
}

// CoinGeckoClient fetches historical crypto rates from the CoinGecko API.
type CoinGeckoClient struct {
	baseURL string
	http    httpGetter
}

// NewCoinGeckoClient creates a new CoinGecko API client.
func NewCoinGeckoClient(baseURL string, delay time.Duration, maxRetries int) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPGetter("CoinGecko", delay, maxRetries),
	}
}

// HistoricalRates returns base/quote prices in [from, to). When base is not a
// coin CoinGecko knows but quote is, the pair is queried reversed and the
// rates are stored as quote/base; rate lookups invert them.
func (c *CoinGeckoClient) HistoricalRates(ctx context.Context, base, quote string, from, to time.Time) ([]domain.ExchangeRate, error) {
	coin, vs := base, quote
	if _, ok := SymbolMapping[coin]; !ok || !vsCurrencies[vs] {
		coin, vs = quote, base
	}
	id, ok := SymbolMapping[coin]
	if !ok || !vsCurrencies[vs] {
		slog.Warn("CoinGecko: unsupported pair", "base", base, "quote", quote)
		return nil, nil
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=%s&from=%d&to=%d",
		c.baseURL, id, strings.ToLower(vs), from.Unix(), to.Unix())

	body, err := c.http.get(ctx, url)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Parse: {"prices":[[1525910400000, 7700.12], ...], ...}
	var raw struct {
		Prices [][2]json.Number `json:"prices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing CoinGecko response: %w", err)
	}

	result := make([]domain.ExchangeRate, 0, len(raw.Prices))
	for _, p := range raw.Prices {
		ms, err := p[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("parsing CoinGecko timestamp %q: %w", p[0], err)
		}
		ts := time.UnixMilli(ms).UTC()
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		rate, err := decimal.NewFromString(p[1].String())
		if err != nil {
			return nil, fmt.Errorf("parsing CoinGecko price %q: %w", p[1], err)
		}
		rate = rate.Round(domain.StorageScale)
		if !rate.IsPositive() {
			continue
		}
		result = append(result, domain.ExchangeRate{
			Base:      coin,
			Quote:     vs,
			Rate:      rate,
			Timestamp: ts,
			Source:    domain.CoinGeckoSource,
		})
	}

	if c.http.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.http.delay):
		}
	}
	return result, nil
}
