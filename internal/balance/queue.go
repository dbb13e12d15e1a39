// Package balance processes trades through per-currency lot queues and
// computes the disposal breakdown of every SELL leg.
package balance

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/lots"
)

var (
	// ErrUnresolvedLeg marks a SELL or FEE leg without a tax-currency amount.
	ErrUnresolvedLeg = errors.New("leg has no converted amount")
	// ErrOutOfOrder marks a trade older than one already processed.
	ErrOutOfOrder = errors.New("trade out of chronological order")
)

func unresolved(t *domain.Trade, l domain.Leg) error {
	return fmt.Errorf("trade %q %s %s: %w", t.SourceID, l.Type, l.Currency, ErrUnresolvedLeg)
}

// CurrencyBalance is the amount held in one currency.
type CurrencyBalance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Lots     int             `json:"lots"`
}

// MultiQueue owns one lot queue per currency. It is not safe for concurrent use.
type MultiQueue struct {
	ordering       lots.Ordering
	feesDeductible bool
	money          domain.Money
	queues         map[string]*lots.Queue
	last           time.Time
}

// NewMultiQueue creates a balance queue applying ordering to every currency.
// An unknown ordering is rejected with lots.ErrUnknownOrdering.
func NewMultiQueue(ordering lots.Ordering, feesDeductible bool, money domain.Money) (*MultiQueue, error) {
	if err := ordering.Validate(); err != nil {
		return nil, err
	}
	return &MultiQueue{
		ordering:       ordering,
		feesDeductible: feesDeductible,
		money:          money,
		queues:         make(map[string]*lots.Queue),
	}, nil
}

// queue returns the queue for currency, creating it on first use.
func (mq *MultiQueue) queue(currency string) *lots.Queue {
	q, ok := mq.queues[currency]
	if !ok {
		// the ordering was validated by NewMultiQueue
		q, _ = lots.NewQueue(mq.ordering)
		mq.queues[currency] = q
	}
	return q
}

// Trade consumes the SELL leg from its currency's lots, computes the disposal
// and then acquires the BUY leg. A trade that fails leaves every queue
// unchanged: the disposal is computed from a preview of the consumption and
// the queues are only touched once nothing can fail.
func (mq *MultiQueue) Trade(trade *domain.Trade) (Disposal, error) {
	if err := mq.check(trade); err != nil {
		return Disposal{}, err
	}

	sell, _ := trade.Leg(domain.LegSell)
	buy, _ := trade.Leg(domain.LegBuy)
	sellQueue := mq.queue(sell.Currency)

	disposal, err := newDisposal(trade, sellQueue.Peek(sell.Amount), mq.feesDeductible, mq.money)
	if err != nil {
		return Disposal{}, fmt.Errorf("disposal of trade %q: %w", trade.SourceID, err)
	}

	sellQueue.Consume(sell.Amount)
	mq.queue(buy.Currency).Acquire(buy.Amount, trade)

	if !trade.Timestamp.IsZero() {
		mq.last = trade.Timestamp
	}
	return disposal, nil
}

func (mq *MultiQueue) check(trade *domain.Trade) error {
	if trade == nil {
		return errors.New("nil trade")
	}
	if err := trade.Validate(); err != nil {
		return err
	}
	for _, typ := range []domain.LegType{domain.LegSell, domain.LegFee} {
		l, _ := trade.Leg(typ)
		if _, ok := l.Converted(); !ok {
			return unresolved(trade, l)
		}
	}
	if !trade.Timestamp.IsZero() && trade.Timestamp.Before(mq.last) {
		return fmt.Errorf("trade %q at %s before %s: %w",
			trade.SourceID, trade.Timestamp.Format(time.RFC3339), mq.last.Format(time.RFC3339), ErrOutOfOrder)
	}
	return nil
}

// Balance returns the amount held in currency.
func (mq *MultiQueue) Balance(currency string) decimal.Decimal {
	q, ok := mq.queues[currency]
	if !ok {
		return decimal.Zero
	}
	return q.Balance()
}

// Balances lists every currency seen so far, sorted by currency.
func (mq *MultiQueue) Balances() []CurrencyBalance {
	currencies := lo.Keys(mq.queues)
	slices.Sort(currencies)
	return lo.Map(currencies, func(c string, _ int) CurrencyBalance {
		q := mq.queues[c]
		return CurrencyBalance{Currency: c, Amount: q.Balance(), Lots: q.Len()}
	})
}

// Ordering returns the lot ordering of all queues.
func (mq *MultiQueue) Ordering() lots.Ordering {
	return mq.ordering
}
