// Package rates finds exchange rates into the tax currency and resolves trade
// legs to tax-currency amounts.
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// DefaultMaxAge is the distance beyond which a closest rate is logged as stale.
const DefaultMaxAge = 24 * time.Hour

// fiatCurrencies are queried through the fiat client; everything else is crypto.
var fiatCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CHF": true, "JPY": true,
	"CAD": true, "AUD": true, "SEK": true, "NOK": true, "DKK": true, "PLN": true, "CZK": true,
}

// IsFiat reports whether currency is a known fiat currency.
func IsFiat(currency string) bool {
	return fiatCurrencies[currency]
}

// CryptoClient returns historical rates of a pair covering [from, to).
type CryptoClient interface {
	HistoricalRates(ctx context.Context, base, quote string, from, to time.Time) ([]domain.ExchangeRate, error)
}

// FiatClient returns the rate of a fiat pair on the day of at.
type FiatClient interface {
	DailyRate(ctx context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error)
}

type pair struct {
	base, quote string
}

// Book holds exchange rates in memory and finds the one closest to a
// timestamp. When API clients are configured, missing pairs are queried.
// Book is safe for concurrent use.
type Book struct {
	mu      sync.Mutex
	rates   map[pair][]domain.ExchangeRate
	sources map[string]*domain.RateSource
	queried map[pair]bool
	fiat    map[string]domain.ExchangeRate

	from, to time.Time
	maxAge   time.Duration
	crypto   CryptoClient
	fiatAPI  FiatClient
}

// Option configures a Book.
type Option func(*Book)

// WithMaxAge sets the staleness warning threshold.
func WithMaxAge(d time.Duration) Option {
	return func(b *Book) {
		if d > 0 {
			b.maxAge = d
		}
	}
}

// WithCryptoClient enables querying crypto pairs.
func WithCryptoClient(c CryptoClient) Option {
	return func(b *Book) { b.crypto = c }
}

// WithFiatClient enables querying fiat pairs.
func WithFiatClient(c FiatClient) Option {
	return func(b *Book) { b.fiatAPI = c }
}

// NewBook creates a book for the tax year [from, to).
func NewBook(from, to time.Time, opts ...Option) *Book {
	b := &Book{
		rates:   make(map[pair][]domain.ExchangeRate),
		sources: make(map[string]*domain.RateSource),
		queried: make(map[pair]bool),
		fiat:    make(map[string]domain.ExchangeRate),
		from:    from,
		to:      to,
		maxAge:  DefaultMaxAge,
	}
	for _, s := range []*domain.RateSource{domain.CoinGeckoSource, domain.FrankfurterSource, domain.ImplicitSource} {
		b.sources[s.SourceID] = s
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSource registers a rate source. Source ids are unique.
func (b *Book) AddSource(src *domain.RateSource) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[src.SourceID]; ok {
		return fmt.Errorf("rate source %q is already defined", src.SourceID)
	}
	b.sources[src.SourceID] = src
	return nil
}

// Sources returns the registered sources keyed by id.
func (b *Book) Sources() map[string]*domain.RateSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*domain.RateSource, len(b.sources))
	for k, v := range b.sources {
		out[k] = v
	}
	return out
}

// Add stores rates. A later rate with the same pair and timestamp replaces
// the earlier one.
func (b *Book) Add(rates ...domain.ExchangeRate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(rates...)
}

func (b *Book) add(rates ...domain.ExchangeRate) {
	for _, r := range rates {
		key := pair{r.Base, r.Quote}
		list := b.rates[key]
		replaced := false
		for i := range list {
			if list[i].Timestamp.Equal(r.Timestamp) {
				list[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, r)
		}
		b.rates[key] = list
	}
}

// Len returns the number of stored rates.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, list := range b.rates {
		n += len(list)
	}
	return n
}

// Lookup finds the rate for base/quote closest to at. Identical currencies
// yield an implicit rate of 1. ok is false when no rate is known.
func (b *Book) Lookup(ctx context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error) {
	if base == quote {
		return domain.ExchangeRate{
			Base:      base,
			Quote:     quote,
			Rate:      decimal.NewFromInt(1),
			Timestamp: at,
			Source:    domain.ImplicitSource,
		}, true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.closest(base, quote, at); ok {
		return r, true, nil
	}

	if IsFiat(base) && IsFiat(quote) {
		return b.queryFiat(ctx, base, quote, at)
	}
	if b.crypto == nil {
		return domain.ExchangeRate{}, false, nil
	}
	key := pair{base, quote}
	if !b.queried[key] {
		b.queried[key] = true
		slog.Info("Rates: querying crypto rates", "base", base, "quote", quote, "from", b.from, "to", b.to)
		rates, err := b.crypto.HistoricalRates(ctx, base, quote, b.from, b.to)
		if err != nil {
			return domain.ExchangeRate{}, false, fmt.Errorf("querying %s/%s rates: %w", base, quote, err)
		}
		slog.Info("Rates: received crypto rates", "base", base, "quote", quote, "count", len(rates))
		b.add(rates...)
	}
	r, ok := b.closest(base, quote, at)
	return r, ok, nil
}

func (b *Book) queryFiat(ctx context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error) {
	if b.fiatAPI == nil {
		return domain.ExchangeRate{}, false, nil
	}
	key := fmt.Sprintf("%s/%s@%s", base, quote, at.UTC().Format(time.DateOnly))
	if r, ok := b.fiat[key]; ok {
		return r, true, nil
	}
	r, ok, err := b.fiatAPI.DailyRate(ctx, base, quote, at)
	if err != nil {
		return domain.ExchangeRate{}, false, fmt.Errorf("querying %s/%s rate: %w", base, quote, err)
	}
	if ok {
		b.fiat[key] = r
	}
	return r, ok, nil
}

// closest searches (base, quote) and falls back to (quote, base).
func (b *Book) closest(base, quote string, at time.Time) (domain.ExchangeRate, bool) {
	list, ok := b.rates[pair{base, quote}]
	if !ok {
		list, ok = b.rates[pair{quote, base}]
	}
	if !ok || len(list) == 0 {
		return domain.ExchangeRate{}, false
	}

	best := list[0]
	bestAge := absDuration(best.Timestamp.Sub(at))
	for _, r := range list[1:] {
		if age := absDuration(r.Timestamp.Sub(at)); age < bestAge {
			best, bestAge = r, age
		}
	}
	if bestAge > b.maxAge {
		slog.Warn("Rates: closest rate is stale",
			"base", base, "quote", quote, "requested", at, "found", best.Timestamp, "age", bestAge)
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
