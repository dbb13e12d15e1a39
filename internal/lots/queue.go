// Package lots implements the per-currency queue of acquisition lots and the
// FIFO/LIFO consumption used to match disposals against earlier acquisitions.
package lots

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// Ordering selects which lot a disposal consumes first.
type Ordering string

const (
	FIFO Ordering = "FIFO"
	LIFO Ordering = "LIFO"
)

// ErrUnknownOrdering marks an ordering other than FIFO or LIFO.
var ErrUnknownOrdering = errors.New("unknown lot ordering")

// ParseOrdering accepts "FIFO" or "LIFO" in any case.
func ParseOrdering(s string) (Ordering, error) {
	o := Ordering(strings.ToUpper(strings.TrimSpace(s)))
	if err := o.Validate(); err != nil {
		return "", fmt.Errorf("%w %q (want FIFO or LIFO)", ErrUnknownOrdering, s)
	}
	return o, nil
}

// Validate reports ErrUnknownOrdering for anything but FIFO or LIFO.
func (o Ordering) Validate() error {
	if o != FIFO && o != LIFO {
		return fmt.Errorf("%w %q", ErrUnknownOrdering, string(o))
	}
	return nil
}

// Lot is an acquired amount still held. Trade is the acquiring trade; the lot
// does not own it.
type Lot struct {
	Amount decimal.Decimal
	Trade  *domain.Trade
}

// Fragment is the part of a lot consumed by one disposal. A nil Trade marks an
// unaccounted amount: the disposal exceeded all recorded acquisitions.
type Fragment struct {
	Amount decimal.Decimal
	Trade  *domain.Trade
}

// Unaccounted reports whether the fragment has no originating acquisition.
func (f Fragment) Unaccounted() bool {
	return f.Trade == nil
}

// Queue holds the lots of a single currency in acquisition order. It is not
// safe for concurrent use.
type Queue struct {
	ordering Ordering
	lots     []Lot
}

// NewQueue creates an empty queue.
func NewQueue(ordering Ordering) (*Queue, error) {
	if err := ordering.Validate(); err != nil {
		return nil, err
	}
	return &Queue{ordering: ordering}, nil
}

// Ordering returns the consumption ordering of the queue.
func (q *Queue) Ordering() Ordering {
	return q.ordering
}

// Acquire appends a lot of amount acquired by trade. Non-positive amounts are ignored.
func (q *Queue) Acquire(amount decimal.Decimal, trade *domain.Trade) {
	if !amount.IsPositive() {
		return
	}
	q.lots = append(q.lots, Lot{Amount: amount, Trade: trade})
}

// Consume removes lots totalling amount and returns the consumed fragments in
// consumption order. A lot larger than the remainder is split and its residual
// keeps its position. When the queue runs dry the rest is returned as a single
// unaccounted fragment. Non-positive amounts consume nothing.
func (q *Queue) Consume(amount decimal.Decimal) []Fragment {
	var fragments []Fragment
	remaining := amount

	for remaining.IsPositive() {
		if q.IsEmpty() {
			fragments = append(fragments, Fragment{Amount: remaining})
			break
		}

		lot := q.pop()
		if lot.Amount.GreaterThan(remaining) {
			fragments = append(fragments, Fragment{Amount: remaining, Trade: lot.Trade})
			lot.Amount = lot.Amount.Sub(remaining)
			q.putBack(lot)
			break
		}

		fragments = append(fragments, Fragment{Amount: lot.Amount, Trade: lot.Trade})
		remaining = remaining.Sub(lot.Amount)
	}

	return fragments
}

// Peek returns the fragments Consume would return for amount without
// changing the queue.
func (q *Queue) Peek(amount decimal.Decimal) []Fragment {
	preview := &Queue{ordering: q.ordering, lots: q.Lots()}
	return preview.Consume(amount)
}

// Balance is the sum of all lots held.
func (q *Queue) Balance() decimal.Decimal {
	balance := decimal.Zero
	for _, l := range q.lots {
		balance = balance.Add(l.Amount)
	}
	return balance
}

// Len returns the number of lots held.
func (q *Queue) Len() int {
	return len(q.lots)
}

// IsEmpty reports whether the queue holds no lots.
func (q *Queue) IsEmpty() bool {
	return len(q.lots) == 0
}

// Lots returns a copy of the held lots, oldest first.
func (q *Queue) Lots() []Lot {
	return append([]Lot(nil), q.lots...)
}

func (q *Queue) pop() Lot {
	if q.ordering == LIFO {
		last := len(q.lots) - 1
		lot := q.lots[last]
		q.lots = q.lots[:last]
		return lot
	}
	lot := q.lots[0]
	q.lots = q.lots[1:]
	return lot
}

// putBack restores a partially consumed lot to the end it was popped from.
func (q *Queue) putBack(lot Lot) {
	if q.ordering == LIFO {
		q.lots = append(q.lots, lot)
		return
	}
	q.lots = append([]Lot{lot}, q.lots...)
}
