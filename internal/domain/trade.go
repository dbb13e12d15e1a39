package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LegType classifies a movement within a trade.
type LegType string

const (
	LegBuy  LegType = "BUY"
	LegSell LegType = "SELL"
	LegFee  LegType = "FEE"
)

// ParseLegType converts a stored leg type name back to a LegType.
func ParseLegType(s string) (LegType, error) {
	switch t := LegType(strings.ToUpper(s)); t {
	case LegBuy, LegSell, LegFee:
		return t, nil
	default:
		return "", fmt.Errorf("unknown leg type %q", s)
	}
}

// ErrTradeShape marks trades that do not have exactly one BUY, SELL and FEE leg.
var ErrTradeShape = errors.New("malformed trade")

// TradeShapeError reports how many legs of a type a trade carried.
type TradeShapeError struct {
	SourceID string
	Type     LegType
	Count    int
}

func (e *TradeShapeError) Error() string {
	return fmt.Sprintf("trade %q: expected exactly one %s leg, got %d", e.SourceID, e.Type, e.Count)
}

func (e *TradeShapeError) Unwrap() error { return ErrTradeShape }

// ErrNegativeAmount marks a leg whose amount is below zero.
var ErrNegativeAmount = errors.New("negative leg amount")

// Leg is one movement of a trade. Amount is never negative.
// ConvertedAmount is the amount in tax currency and is set by rate resolution;
// Rate is the rate used for it, nil for tax-currency legs and unresolved legs.
type Leg struct {
	ID              int64               `json:"id,omitempty"`
	Type            LegType             `json:"type"`
	Currency        string              `json:"currency"`
	Amount          decimal.Decimal     `json:"amount"`
	Timestamp       time.Time           `json:"timestamp"`
	ConvertedAmount decimal.NullDecimal `json:"convertedAmount"`
	Rate            *ExchangeRate       `json:"rate,omitempty"`
}

// Equal compares type, amount and currency. Persistence ids, timestamps and
// resolution results are not part of a leg's identity.
func (l Leg) Equal(o Leg) bool {
	return l.Type == o.Type && l.Currency == o.Currency && l.Amount.Equal(o.Amount)
}

// Key is a string form of the fields compared by Equal.
func (l Leg) Key() string {
	return fmt.Sprintf("%s:%s:%s", l.Type, l.Currency, l.Amount.String())
}

// Converted returns the converted amount and whether it has been resolved.
func (l Leg) Converted() (decimal.Decimal, bool) {
	return l.ConvertedAmount.Decimal, l.ConvertedAmount.Valid
}

// WithConversion returns a copy of the leg carrying a resolved amount.
func (l Leg) WithConversion(amount decimal.Decimal, rate *ExchangeRate) Leg {
	l.ConvertedAmount = decimal.NewNullDecimal(amount)
	l.Rate = rate
	return l
}

// Trade disposes of one currency to acquire another, plus a fee.
// A Trade is not modified after construction; resolution builds a new one.
type Trade struct {
	ID        int64     `json:"id,omitempty"`
	SourceID  string    `json:"sourceId"`
	Timestamp time.Time `json:"timestamp"`
	Legs      []Leg     `json:"legs"`
}

// NewTrade copies legs into a new trade.
func NewTrade(sourceID string, timestamp time.Time, legs []Leg) *Trade {
	return &Trade{
		SourceID:  sourceID,
		Timestamp: timestamp,
		Legs:      append([]Leg(nil), legs...),
	}
}

// Leg returns the single leg of type t.
func (t *Trade) Leg(typ LegType) (Leg, error) {
	var found Leg
	count := 0
	for _, l := range t.Legs {
		if l.Type == typ {
			found = l
			count++
		}
	}
	if count != 1 {
		return Leg{}, &TradeShapeError{SourceID: t.SourceID, Type: typ, Count: count}
	}
	return found, nil
}

// Validate checks that the trade has exactly one leg of each type and that no
// leg amount is negative.
func (t *Trade) Validate() error {
	for _, typ := range []LegType{LegSell, LegBuy, LegFee} {
		l, err := t.Leg(typ)
		if err != nil {
			return err
		}
		if l.Amount.IsNegative() {
			return fmt.Errorf("trade %q %s %s %s: %w", t.SourceID, l.Type, l.Amount, l.Currency, ErrNegativeAmount)
		}
	}
	return nil
}

// Equal compares source id, timestamp and the legs regardless of their order.
func (t *Trade) Equal(o *Trade) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Key() == o.Key()
}

// Key is a stable identity string: source id, timestamp and sorted leg keys.
func (t *Trade) Key() string {
	keys := make([]string, len(t.Legs))
	for i, l := range t.Legs {
		keys[i] = l.Key()
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s@%s[%s]", t.SourceID, t.Timestamp.UTC().Format(time.RFC3339Nano), strings.Join(keys, ","))
}

// SortTradesByTime sorts trades by timestamp, earliest first. Equal timestamps
// keep their input order.
func SortTradesByTime(trades []*Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}

// EarliestTrade returns the trade with the smallest timestamp, or nil.
func EarliestTrade(trades []*Trade) *Trade {
	var earliest *Trade
	for _, t := range trades {
		if earliest == nil || t.Timestamp.Before(earliest.Timestamp) {
			earliest = t
		}
	}
	return earliest
}
