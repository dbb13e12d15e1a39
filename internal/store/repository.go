// Package store persists imported orders and their exchange rate resolution.
package store

import (
	"context"
	"errors"

	"github.com/mtlprog/ctax/internal/domain"
)

// ErrNotFound indicates that the requested order was not found.
var ErrNotFound = errors.New("order not found")

// Repository defines persistent storage for orders, trades and legs.
type Repository interface {
	// SaveOrders stores orders not yet present (keyed by exchange and source
	// id) and returns how many were added.
	SaveOrders(ctx context.Context, orders []domain.Order) (int, error)
	// LoadOrders returns all orders with ids assigned, earliest first.
	LoadOrders(ctx context.Context) ([]domain.Order, error)
	// Order returns one order.
	Order(ctx context.Context, exchange, sourceID string) (domain.Order, error)
	// DeleteOrders removes all orders and everything attached to them.
	DeleteOrders(ctx context.Context) error
	// SaveResolution stores the converted amounts and rates of loaded legs.
	SaveResolution(ctx context.Context, orders []domain.Order) error
	// DeleteRates removes all rates and every leg's resolution.
	DeleteRates(ctx context.Context) error
}

func cloneOrder(o domain.Order) domain.Order {
	c := o
	c.Trades = make([]*domain.Trade, len(o.Trades))
	for i, t := range o.Trades {
		ct := *t
		ct.Legs = make([]domain.Leg, len(t.Legs))
		for j, l := range t.Legs {
			if l.Rate != nil {
				r := *l.Rate
				l.Rate = &r
			}
			ct.Legs[j] = l
		}
		c.Trades[i] = &ct
	}
	return c
}
