package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/ctax/internal/domain"
)

// MissingRateError reports a leg that cannot be converted into tax currency.
type MissingRateError struct {
	TradeID   string
	Base      string
	Quote     string
	Timestamp time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no exchange rate %s/%s at %s for trade %q",
		e.Base, e.Quote, e.Timestamp.Format(time.RFC3339), e.TradeID)
}

// Lookup finds exchange rates.
type Lookup interface {
	Lookup(ctx context.Context, base, quote string, at time.Time) (domain.ExchangeRate, bool, error)
}

// Resolver sets the tax-currency amount of trade legs.
type Resolver struct {
	lookup      Lookup
	taxCurrency string
	money       domain.Money
}

// NewResolver creates a resolver converting into taxCurrency.
func NewResolver(lookup Lookup, taxCurrency string, money domain.Money) *Resolver {
	return &Resolver{lookup: lookup, taxCurrency: taxCurrency, money: money}
}

// ResolveOrders returns copies of orders with every trade resolved.
func (r *Resolver) ResolveOrders(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	out := make([]domain.Order, len(orders))
	for i, o := range orders {
		resolved := o
		resolved.Trades = make([]*domain.Trade, len(o.Trades))
		for j, t := range o.Trades {
			rt, err := r.ResolveTrade(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("order %s: %w", o.Key(), err)
			}
			resolved.Trades[j] = rt
		}
		out[i] = resolved
	}
	return out, nil
}

// ResolveTrade returns a copy of t with converted amounts. Tax-currency legs
// convert 1:1 without a rate; BUY legs in other currencies stay unconverted.
// Every other leg needs a rate at the trade's timestamp; the converted amount
// is rounded to the storage scale.
func (r *Resolver) ResolveTrade(ctx context.Context, t *domain.Trade) (*domain.Trade, error) {
	resolved := *t
	resolved.Legs = make([]domain.Leg, len(t.Legs))

	for i, leg := range t.Legs {
		leg.ConvertedAmount.Valid = false
		leg.Rate = nil

		switch {
		case leg.Currency == r.taxCurrency:
			leg = leg.WithConversion(leg.Amount, nil)
		case leg.Type == domain.LegBuy:
		default:
			rate, ok, err := r.lookup.Lookup(ctx, leg.Currency, r.taxCurrency, t.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("trade %q: %w", t.SourceID, err)
			}
			if !ok {
				return nil, &MissingRateError{TradeID: t.SourceID, Base: leg.Currency, Quote: r.taxCurrency, Timestamp: t.Timestamp}
			}
			factor, _, err := rate.RateFor(leg.Currency, r.taxCurrency, r.money)
			if err != nil {
				return nil, fmt.Errorf("trade %q rate %s/%s: %w", t.SourceID, rate.Base, rate.Quote, err)
			}
			converted := leg.Amount.Mul(factor).Round(domain.StorageScale)
			leg = leg.WithConversion(converted, &rate)
		}
		resolved.Legs[i] = leg
	}
	return &resolved, nil
}
