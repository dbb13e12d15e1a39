package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mtlprog/ctax/internal/domain"
)

// MemoryRepository keeps orders in memory for runs without a database.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders []domain.Order
	byKey  map[string]int
	nextID int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byKey: make(map[string]int)}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) SaveOrders(_ context.Context, orders []domain.Order) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, o := range orders {
		if _, ok := r.byKey[o.Key()]; ok {
			continue
		}
		c := cloneOrder(o)
		c.ID = r.id()
		for _, t := range c.Trades {
			t.ID = r.id()
			for j := range t.Legs {
				t.Legs[j].ID = r.id()
			}
		}
		r.byKey[c.Key()] = len(r.orders)
		r.orders = append(r.orders, c)
		added++
	}

	slog.Info("Store: saved orders", "received", len(orders), "present", len(orders)-added, "added", added)
	return added, nil
}

func (r *MemoryRepository) LoadOrders(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Order, len(r.orders))
	for i, o := range r.orders {
		out[i] = cloneOrder(o)
	}
	domain.SortOrdersByTime(out)
	return out, nil
}

func (r *MemoryRepository) Order(_ context.Context, exchange, sourceID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byKey[domain.Order{Exchange: exchange, SourceID: sourceID}.Key()]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return cloneOrder(r.orders[i]), nil
}

func (r *MemoryRepository) DeleteOrders(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = nil
	r.byKey = make(map[string]int)
	return nil
}

func (r *MemoryRepository) SaveResolution(_ context.Context, orders []domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	legs := make(map[int64]domain.Leg)
	for _, o := range orders {
		for _, t := range o.Trades {
			for _, l := range t.Legs {
				if l.ID == 0 {
					return fmt.Errorf("trade %q %s leg has no id", t.SourceID, l.Type)
				}
				legs[l.ID] = l
			}
		}
	}

	for _, o := range r.orders {
		for _, t := range o.Trades {
			for j, l := range t.Legs {
				resolved, ok := legs[l.ID]
				if !ok {
					continue
				}
				l.ConvertedAmount = resolved.ConvertedAmount
				l.Rate = nil
				if resolved.Rate != nil {
					rate := *resolved.Rate
					l.Rate = &rate
				}
				t.Legs[j] = l
			}
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteRates(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for _, t := range o.Trades {
			for j := range t.Legs {
				t.Legs[j].ConvertedAmount.Valid = false
				t.Legs[j].Rate = nil
			}
		}
	}
	return nil
}
