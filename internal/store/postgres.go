package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
)

// PgRepository implements Repository with PostgreSQL. Amounts and rates are
// stored as BIGINT scaled by domain.StorageScale.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL order repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) SaveOrders(ctx context.Context, orders []domain.Order) (int, error) {
	added := 0
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, o := range orders {
			var orderID int64
			err := tx.QueryRow(ctx,
				`INSERT INTO orders (exchange, source_id)
				 VALUES ($1, $2)
				 ON CONFLICT (exchange, source_id) DO NOTHING
				 RETURNING id`,
				o.Exchange, o.SourceID).Scan(&orderID)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("saving order %s: %w", o.Key(), err)
			}
			for _, t := range o.Trades {
				if err := insertTrade(ctx, tx, orderID, t); err != nil {
					return fmt.Errorf("saving order %s: %w", o.Key(), err)
				}
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info("Store: saved orders", "received", len(orders), "present", len(orders)-added, "added", added)
	return added, nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, orderID int64, t *domain.Trade) error {
	var tradeID int64
	err := tx.QueryRow(ctx,
		`INSERT INTO trades (order_id, source_id, timestamp) VALUES ($1, $2, $3) RETURNING id`,
		orderID, t.SourceID, t.Timestamp).Scan(&tradeID)
	if err != nil {
		return fmt.Errorf("inserting trade %q: %w", t.SourceID, err)
	}

	for _, l := range t.Legs {
		amount, err := domain.ToScaled(l.Amount, domain.StorageScale)
		if err != nil {
			return fmt.Errorf("trade %q %s amount: %w", t.SourceID, l.Type, err)
		}
		ts := l.Timestamp
		if ts.IsZero() {
			ts = t.Timestamp
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (trade_id, type, currency, amount, timestamp) VALUES ($1, $2, $3, $4, $5)`,
			tradeID, string(l.Type), l.Currency, amount, ts); err != nil {
			return fmt.Errorf("inserting trade %q %s leg: %w", t.SourceID, l.Type, err)
		}
	}
	return nil
}

const selectOrders = `
	SELECT o.id, o.exchange, o.source_id,
	       t.id, t.source_id, t.timestamp,
	       x.id, x.type, x.currency, x.amount, x.timestamp, x.converted_amount,
	       er.id, er.base_currency, er.quote_currency, er.rate, er.timestamp,
	       s.id, s.source_id, s.short_description, s.long_description
	FROM orders o
	JOIN trades t ON t.order_id = o.id
	JOIN transactions x ON x.trade_id = t.id
	LEFT JOIN exchange_rates er ON er.id = x.exchange_rate_id
	LEFT JOIN exchange_rate_sources s ON s.id = er.source_id`

func (r *PgRepository) LoadOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := r.queryOrders(ctx, selectOrders+` ORDER BY o.id, t.id, x.id`)
	if err != nil {
		return nil, err
	}
	domain.SortOrdersByTime(orders)
	return orders, nil
}

func (r *PgRepository) Order(ctx context.Context, exchange, sourceID string) (domain.Order, error) {
	orders, err := r.queryOrders(ctx,
		selectOrders+` WHERE o.exchange = $1 AND o.source_id = $2 ORDER BY o.id, t.id, x.id`, exchange, sourceID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, ErrNotFound
	}
	return orders[0], nil
}

func (r *PgRepository) queryOrders(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("loading orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	sources := make(map[int64]*domain.RateSource)
	var trade *domain.Trade

	for rows.Next() {
		var (
			orderID                    int64
			exchange, orderSource      string
			tradeID                    int64
			tradeSource                string
			tradeTime                  time.Time
			legID                      int64
			legType, currency          string
			amount                     int64
			legTime                    time.Time
			converted                  *int64
			rateID                     *int64
			base, quote                *string
			rate                       *int64
			rateTime                   *time.Time
			srcID                      *int64
			srcName, srcShort, srcLong *string
		)
		if err := rows.Scan(&orderID, &exchange, &orderSource,
			&tradeID, &tradeSource, &tradeTime,
			&legID, &legType, &currency, &amount, &legTime, &converted,
			&rateID, &base, &quote, &rate, &rateTime,
			&srcID, &srcName, &srcShort, &srcLong); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}

		if len(orders) == 0 || orders[len(orders)-1].ID != orderID {
			orders = append(orders, domain.Order{ID: orderID, Exchange: exchange, SourceID: orderSource})
			trade = nil
		}
		order := &orders[len(orders)-1]
		if trade == nil || trade.ID != tradeID {
			trade = &domain.Trade{ID: tradeID, SourceID: tradeSource, Timestamp: tradeTime.UTC()}
			order.Trades = append(order.Trades, trade)
		}

		typ, err := domain.ParseLegType(legType)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", legID, err)
		}
		leg := domain.Leg{
			ID:        legID,
			Type:      typ,
			Currency:  currency,
			Amount:    domain.FromScaled(amount, domain.StorageScale),
			Timestamp: legTime.UTC(),
		}
		if converted != nil {
			leg.ConvertedAmount = decimal.NewNullDecimal(domain.FromScaled(*converted, domain.StorageScale))
		}
		if rateID != nil {
			er := &domain.ExchangeRate{
				ID:        *rateID,
				Base:      *base,
				Quote:     *quote,
				Rate:      domain.FromScaled(*rate, domain.StorageScale),
				Timestamp: rateTime.UTC(),
			}
			if srcID != nil {
				src, ok := sources[*srcID]
				if !ok {
					src = &domain.RateSource{ID: *srcID, SourceID: *srcName, ShortDescription: *srcShort, LongDescription: *srcLong}
					sources[*srcID] = src
				}
				er.Source = src
			}
			leg.Rate = er
		}
		trade.Legs = append(trade.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}

func (r *PgRepository) DeleteOrders(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("deleting orders: %w", err)
	}
	slog.Info("Store: deleted all orders")
	return nil
}

func (r *PgRepository) SaveResolution(ctx context.Context, orders []domain.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		sourceIDs := make(map[string]int64)
		rateIDs := make(map[string]int64)

		for _, o := range orders {
			for _, t := range o.Trades {
				for _, l := range t.Legs {
					if l.ID == 0 {
						return fmt.Errorf("trade %q %s leg has no id", t.SourceID, l.Type)
					}
					var converted *int64
					if v, ok := l.Converted(); ok {
						scaled, err := domain.ToScaled(v, domain.StorageScale)
						if err != nil {
							return fmt.Errorf("trade %q %s converted amount: %w", t.SourceID, l.Type, err)
						}
						converted = &scaled
					}
					var rateID *int64
					if l.Rate != nil {
						id, err := saveRate(ctx, tx, *l.Rate, sourceIDs, rateIDs)
						if err != nil {
							return fmt.Errorf("trade %q %s rate: %w", t.SourceID, l.Type, err)
						}
						rateID = &id
					}
					if _, err := tx.Exec(ctx,
						`UPDATE transactions SET converted_amount = $2, exchange_rate_id = $3 WHERE id = $1`,
						l.ID, converted, rateID); err != nil {
						return fmt.Errorf("updating leg %d: %w", l.ID, err)
					}
				}
			}
		}
		return nil
	})
}

// saveRate inserts a rate once per (base, quote, timestamp, source).
func saveRate(ctx context.Context, tx pgx.Tx, rate domain.ExchangeRate, sourceIDs, rateIDs map[string]int64) (int64, error) {
	src := rate.Source
	if src == nil {
		src = domain.ImplicitSource
	}
	key := fmt.Sprintf("%s/%s@%d#%s", rate.Base, rate.Quote, rate.Timestamp.UnixNano(), src.SourceID)
	if id, ok := rateIDs[key]; ok {
		return id, nil
	}

	srcID, ok := sourceIDs[src.SourceID]
	if !ok {
		err := tx.QueryRow(ctx,
			`INSERT INTO exchange_rate_sources (source_id, short_description, long_description)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (source_id) DO UPDATE SET short_description = $2, long_description = $3
			 RETURNING id`,
			src.SourceID, src.ShortDescription, src.LongDescription).Scan(&srcID)
		if err != nil {
			return 0, fmt.Errorf("saving rate source %s: %w", src.SourceID, err)
		}
		sourceIDs[src.SourceID] = srcID
	}

	scaled, err := domain.ToScaled(rate.Rate, domain.StorageScale)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO exchange_rates (base_currency, quote_currency, rate, timestamp, source_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rate.Base, rate.Quote, scaled, rate.Timestamp, srcID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving rate %s/%s: %w", rate.Base, rate.Quote, err)
	}
	rateIDs[key] = id
	return id, nil
}

func (r *PgRepository) DeleteRates(ctx context.Context) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE transactions SET converted_amount = NULL, exchange_rate_id = NULL`); err != nil {
			return fmt.Errorf("clearing leg resolution: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM exchange_rate_sources`); err != nil {
			return fmt.Errorf("deleting rate sources: %w", err)
		}
		slog.Info("Store: deleted all exchange rate data")
		return nil
	})
}
