package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

func leg(typ domain.LegType, currency, amount string) domain.Leg {
	return domain.Leg{Type: typ, Currency: currency, Amount: decimal.RequireFromString(amount)}
}

func TestResolveTrade(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(
		rate("BTC", "EUR", "8000", may10),
		rate("EUR", "USD", "1.25", may10),
	)
	resolver := NewResolver(book, "EUR", domain.NewMoney(domain.DefaultPrecision))

	trade := domain.NewTrade("t1", may10, []domain.Leg{
		leg(domain.LegSell, "USD", "1000"),
		leg(domain.LegBuy, "BTC", "0.1"),
		leg(domain.LegFee, "BTC", "0.0001"),
	})

	resolved, err := resolver.ResolveTrade(context.Background(), trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sell, _ := resolved.Leg(domain.LegSell)
	got, ok := sell.Converted()
	if !ok || !got.Equal(decimal.NewFromInt(800)) {
		t.Errorf("sell converted = %s, %v, want 800 (inverse rate)", got, ok)
	}
	if sell.Rate == nil || sell.Rate.Base != "EUR" {
		t.Errorf("sell rate = %+v, want EUR/USD", sell.Rate)
	}

	buy, _ := resolved.Leg(domain.LegBuy)
	if _, ok := buy.Converted(); ok {
		t.Error("non tax-currency BUY leg should stay unconverted")
	}

	fee, _ := resolved.Leg(domain.LegFee)
	if got, _ := fee.Converted(); !got.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("fee converted = %s, want 0.8", got)
	}

	orig, _ := trade.Leg(domain.LegSell)
	if _, ok := orig.Converted(); ok {
		t.Error("ResolveTrade must not modify its input")
	}
}

func TestResolveTaxCurrencyLegs(t *testing.T) {
	resolver := NewResolver(NewBook(yearFrom, yearTo), "EUR", domain.NewMoney(0))
	trade := domain.NewTrade("t1", may10, []domain.Leg{
		leg(domain.LegSell, "EUR", "500"),
		leg(domain.LegBuy, "EUR", "500"),
		leg(domain.LegFee, "EUR", "1.5"),
	})

	resolved, err := resolver.ResolveTrade(context.Background(), trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, l := range resolved.Legs {
		got, ok := l.Converted()
		if !ok || !got.Equal(l.Amount) || l.Rate != nil {
			t.Errorf("%s leg converted = %s, %v, rate %v", l.Type, got, ok, l.Rate)
		}
	}
}

func TestResolveRoundsToStorageScale(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(rate("EUR", "USD", "3", may10))
	resolver := NewResolver(book, "EUR", domain.NewMoney(domain.DefaultPrecision))

	trade := domain.NewTrade("t1", may10, []domain.Leg{
		leg(domain.LegSell, "USD", "1"),
		leg(domain.LegBuy, "EUR", "0.33"),
		leg(domain.LegFee, "EUR", "0"),
	})
	resolved, err := resolver.ResolveTrade(context.Background(), trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sell, _ := resolved.Leg(domain.LegSell)
	got, _ := sell.Converted()
	if !got.Equal(decimal.RequireFromString("0.3333333333")) {
		t.Errorf("converted = %s, want 0.3333333333", got)
	}
	if _, err := domain.ToScaled(got, domain.StorageScale); err != nil {
		t.Errorf("converted amount does not fit storage scale: %v", err)
	}
}

func TestResolveMissingRate(t *testing.T) {
	resolver := NewResolver(NewBook(yearFrom, yearTo), "EUR", domain.NewMoney(0))
	trade := domain.NewTrade("t1", may10, []domain.Leg{
		leg(domain.LegSell, "BTC", "1"),
		leg(domain.LegBuy, "EUR", "8000"),
		leg(domain.LegFee, "EUR", "1"),
	})

	_, err := resolver.ResolveTrade(context.Background(), trade)
	var missing *MissingRateError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingRateError", err)
	}
	if missing.Base != "BTC" || missing.Quote != "EUR" {
		t.Errorf("missing = %+v", missing)
	}
}

func TestResolveOrders(t *testing.T) {
	book := NewBook(yearFrom, yearTo)
	book.Add(rate("BTC", "EUR", "8000", may10))
	resolver := NewResolver(book, "EUR", domain.NewMoney(0))

	orders := []domain.Order{{
		SourceID: "o1",
		Exchange: "kraken",
		Trades: []*domain.Trade{
			domain.NewTrade("t1", may10, []domain.Leg{leg(domain.LegSell, "BTC", "0.5"), leg(domain.LegBuy, "EUR", "4000"), leg(domain.LegFee, "EUR", "4")}),
			domain.NewTrade("t2", may10.Add(time.Minute), []domain.Leg{leg(domain.LegSell, "BTC", "0.25"), leg(domain.LegBuy, "EUR", "2000"), leg(domain.LegFee, "BTC", "0.0001")}),
		},
	}}

	resolved, err := resolver.ResolveOrders(context.Background(), orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fee, _ := resolved[0].Trades[1].Leg(domain.LegFee)
	if got, _ := fee.Converted(); !got.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("fee converted = %s, want 0.8", got)
	}
	if orders[0].Trades[0] == resolved[0].Trades[0] {
		t.Error("ResolveOrders must return new trades")
	}
}
