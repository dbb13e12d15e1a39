package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Order groups the trades an exchange executed for one order.
type Order struct {
	ID       int64    `json:"id,omitempty"`
	SourceID string   `json:"sourceId"`
	Exchange string   `json:"exchange"`
	Trades   []*Trade `json:"trades"`
}

// Key identifies an order across imports: exchange and source id.
func (o Order) Key() string {
	return o.Exchange + "/" + o.SourceID
}

// Equal compares source id, exchange and trades regardless of their order.
func (o Order) Equal(other Order) bool {
	return o.fullKey() == other.fullKey()
}

func (o Order) fullKey() string {
	keys := make([]string, len(o.Trades))
	for i, t := range o.Trades {
		keys[i] = t.Key()
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s{%s}", o.Key(), strings.Join(keys, ";"))
}

// Timestamp is the time of the order's earliest trade; zero for empty orders.
func (o Order) Timestamp() time.Time {
	if t := EarliestTrade(o.Trades); t != nil {
		return t.Timestamp
	}
	return time.Time{}
}

// SortOrdersByTime sorts orders by their earliest trade.
func SortOrdersByTime(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Timestamp().Before(orders[j].Timestamp())
	})
}
