package rates

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

var (
	yearFrom, yearTo = domain.YearBounds(2018)
	may10            = time.Date(2018, 5, 10, 12, 0, 0, 0, time.UTC)
)

func rate(base, quote, value string, at time.Time) domain.ExchangeRate {
	return domain.ExchangeRate{Base: base, Quote: quote, Rate: decimal.RequireFromString(value), Timestamp: at}
}

type fakeCrypto struct {
	calls int
	rates []domain.ExchangeRate
}

func (f *fakeCrypto) HistoricalRates(_ context.Context, _, _ string, _, _ time.Time) ([]domain.ExchangeRate, error) {
	f.calls++
	return f.rates, nil
}

type fakeFiat struct {
	calls int
	rate  domain.ExchangeRate
}

func (f *fakeFiat) DailyRate(_ context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error) {
	f.calls++
	r := f.rate
	r.Base, r.Quote, r.Timestamp = base, quote, at
	return r, true, nil
}

func TestBookClosest(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(
		rate("BTC", "EUR", "7000", may10.Add(-48*time.Hour)),
		rate("BTC", "EUR", "7500", may10.Add(-2*time.Hour)),
		rate("BTC", "EUR", "7600", may10.Add(5*time.Hour)),
	)

	tests := []struct {
		name        string
		base, quote string
		at          time.Time
		want        string
	}{
		{"closest before", "BTC", "EUR", may10, "7500"},
		{"closest after", "BTC", "EUR", may10.Add(4 * time.Hour), "7600"},
		{"far away", "BTC", "EUR", may10.Add(-30 * 24 * time.Hour), "7000"},
		{"reversed pair", "EUR", "BTC", may10, "7500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := book.Lookup(context.Background(), tt.base, tt.quote, tt.at)
			if err != nil || !ok {
				t.Fatalf("Lookup = %v, %v", ok, err)
			}
			if !got.Rate.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("rate = %s, want %s", got.Rate, tt.want)
			}
		})
	}

	if book.Len() != 3 {
		t.Errorf("Len() = %d, want 3", book.Len())
	}
}

func TestBookImplicitRate(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	r, ok, err := book.Lookup(context.Background(), "EUR", "EUR", may10)
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if !r.Rate.Equal(decimal.NewFromInt(1)) || r.Source != domain.ImplicitSource {
		t.Errorf("implicit rate = %+v", r)
	}
}

func TestBookMissing(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(rate("ETH", "EUR", "600", may10))
	if _, ok, err := book.Lookup(context.Background(), "BTC", "EUR", may10); ok || err != nil {
		t.Errorf("Lookup of unknown pair = %v, %v, want not found", ok, err)
	}
}

func TestBookAddReplacesSameTimestamp(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(rate("BTC", "EUR", "1", may10), rate("BTC", "EUR", "2", may10))
	if book.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", book.Len())
	}
	r, _, _ := book.Lookup(context.Background(), "BTC", "EUR", may10)
	if !r.Rate.Equal(decimal.NewFromInt(2)) {
		t.Errorf("rate = %s, want 2", r.Rate)
	}
}

func TestBookQueriesCryptoOncePerPair(t *testing.T) {
	crypto := &fakeCrypto{rates: []domain.ExchangeRate{rate("BTC", "EUR", "8000", may10)}}
	book := NewBook(yearFrom, yearTo, WithCryptoClient(crypto))
	ctx := context.Background()

	for range 3 {
		r, ok, err := book.Lookup(ctx, "BTC", "EUR", may10)
		if err != nil || !ok {
			t.Fatalf("Lookup = %v, %v", ok, err)
		}
		if !r.Rate.Equal(decimal.NewFromInt(8000)) {
			t.Errorf("rate = %s, want 8000", r.Rate)
		}
	}
	if crypto.calls != 1 {
		t.Errorf("crypto calls = %d, want 1", crypto.calls)
	}

	crypto.rates = nil
	for range 2 {
		if _, ok, _ := book.Lookup(ctx, "XMR", "EUR", may10); ok {
			t.Error("expected no XMR rate")
		}
	}
	if crypto.calls != 2 {
		t.Errorf("crypto calls = %d, want 2", crypto.calls)
	}
}

func TestBookQueriesFiatPerDay(t *testing.T) {
	fiat := &fakeFiat{rate: rate("", "", "1.2", time.Time{})}
	book := NewBook(yearFrom, yearTo, WithFiatClient(fiat), WithCryptoClient(&fakeCrypto{}))
	ctx := context.Background()

	for _, at := range []time.Time{may10, may10.Add(time.Hour), may10.Add(24 * time.Hour)} {
		r, ok, err := book.Lookup(ctx, "USD", "EUR", at)
		if err != nil || !ok {
			t.Fatalf("Lookup = %v, %v", ok, err)
		}
		if !r.Rate.Equal(decimal.RequireFromString("1.2")) {
			t.Errorf("rate = %s, want 1.2", r.Rate)
		}
	}
	if fiat.calls != 2 {
		t.Errorf("fiat calls = %d, want 2 (one per day)", fiat.calls)
	}
}

func TestBookAddSourceRejectsDuplicates(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	if err := book.AddSource(&domain.RateSource{SourceID: "ecb"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := book.AddSource(&domain.RateSource{SourceID: "ecb"}); err == nil {
		t.Error("expected duplicate source error")
	}
	if err := book.AddSource(&domain.RateSource{SourceID: "implicit"}); err == nil {
		t.Error("expected error redefining a built-in source")
	}
	if _, ok := book.Sources()["ecb"]; !ok {
		t.Error("Sources() missing ecb")
	}
}
