// Package pipeline runs the tax calculation steps: import trades, resolve
// exchange rates and calculate the disposal report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/mtlprog/ctax/internal/balance"
	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/importer"
	"github.com/mtlprog/ctax/internal/lots"
	"github.com/mtlprog/ctax/internal/report"
	"github.com/mtlprog/ctax/internal/store"
)

// Steps of a run. A run starting at a step executes it and every later step.
const (
	StepImport    = 1
	StepRates     = 2
	StepCalculate = 3
)

// Importer reads orders from the configured trade files.
type Importer interface {
	ImportAll(formats []importer.Format) ([]domain.Order, error)
}

// Resolver converts trade legs into tax currency.
type Resolver interface {
	ResolveOrders(ctx context.Context, orders []domain.Order) ([]domain.Order, error)
}

// Config holds the calculation parameters.
type Config struct {
	TaxYear            int
	TaxCurrency        string
	Ordering           lots.Ordering
	FeesDeductible     bool
	Precision          int32
	IncludeTaxCurrency bool
}

// Service runs the pipeline steps against a repository. Steps that rewrite
// the repository hold an exclusive lock; calculations share a read lock, so a
// report never sees a half-finished rerun.
type Service struct {
	mu       sync.RWMutex
	repo     store.Repository
	importer Importer
	formats  []importer.Format
	resolver Resolver
	writer   report.Writer
	cfg      Config
}

// NewService creates a pipeline. writer may be nil when reports are only
// calculated on demand.
func NewService(repo store.Repository, im Importer, formats []importer.Format, resolver Resolver, writer report.Writer, cfg Config) *Service {
	return &Service{
		repo:     repo,
		importer: im,
		formats:  formats,
		resolver: resolver,
		writer:   writer,
		cfg:      cfg,
	}
}

// Run executes the steps from start on.
func (s *Service) Run(ctx context.Context, start int) error {
	if start < StepImport || start > StepCalculate {
		return fmt.Errorf("invalid start step %d: must be between %d and %d", start, StepImport, StepCalculate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	steps := []struct {
		step int
		name string
		run  func(context.Context) error
	}{
		{StepImport, "import", s.importOrders},
		{StepRates, "rates", s.resolveRates},
		{StepCalculate, "calculate", s.writeReport},
	}
	for _, st := range steps[start-1:] {
		slog.Info("Pipeline: starting step", "step", st.step, "name", st.name)
		if err := st.run(ctx); err != nil {
			return fmt.Errorf("step %d (%s): %w", st.step, st.name, err)
		}
		slog.Info("Pipeline: step completed", "step", st.step, "name", st.name)
	}
	return nil
}

// Import replaces all stored orders with the contents of the trade files.
func (s *Service) Import(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importOrders(ctx)
}

func (s *Service) importOrders(ctx context.Context) error {
	if err := s.repo.DeleteOrders(ctx); err != nil {
		return fmt.Errorf("deleting orders: %w", err)
	}
	orders, err := s.importer.ImportAll(s.formats)
	if err != nil {
		return fmt.Errorf("importing trades: %w", err)
	}
	if _, err := s.repo.SaveOrders(ctx, orders); err != nil {
		return fmt.Errorf("saving orders: %w", err)
	}
	return nil
}

// ResolveRates drops all previous rate resolution and resolves every stored leg again.
func (s *Service) ResolveRates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveRates(ctx)
}

func (s *Service) resolveRates(ctx context.Context) error {
	if err := s.repo.DeleteRates(ctx); err != nil {
		return fmt.Errorf("deleting rates: %w", err)
	}
	orders, err := s.repo.LoadOrders(ctx)
	if err != nil {
		return fmt.Errorf("loading orders: %w", err)
	}
	resolved, err := s.resolver.ResolveOrders(ctx, orders)
	if err != nil {
		return err
	}
	if err := s.repo.SaveResolution(ctx, resolved); err != nil {
		return fmt.Errorf("saving resolution: %w", err)
	}
	slog.Info("Pipeline: resolved exchange rates", "orders", len(resolved))
	return nil
}

// WriteReport calculates the report and hands it to the writer.
func (s *Service) WriteReport(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeReport(ctx)
}

func (s *Service) writeReport(ctx context.Context) error {
	r, err := s.calculate(ctx)
	if err != nil {
		return err
	}
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Write(ctx, r); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

type orderTrade struct {
	order domain.Order
	trade *domain.Trade
}

// Calculate feeds all stored trades through the balance queue in
// chronological order and builds the report of the tax year. It waits for a
// running pipeline step to finish.
func (s *Service) Calculate(ctx context.Context) (report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calculate(ctx)
}

func (s *Service) calculate(ctx context.Context) (report.Report, error) {
	orders, err := s.repo.LoadOrders(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("loading orders: %w", err)
	}

	trades := lo.FlatMap(orders, func(o domain.Order, _ int) []orderTrade {
		return lo.Map(o.Trades, func(t *domain.Trade, _ int) orderTrade {
			return orderTrade{order: o, trade: t}
		})
	})
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].trade.Timestamp.Before(trades[j].trade.Timestamp)
	})

	money := domain.NewMoney(s.cfg.Precision)
	mq, err := balance.NewMultiQueue(s.cfg.Ordering, s.cfg.FeesDeductible, money)
	if err != nil {
		return report.Report{}, err
	}
	from, to := domain.YearBounds(s.cfg.TaxYear)
	builder := report.Builder{
		TaxCurrency:        s.cfg.TaxCurrency,
		From:               from,
		To:                 to,
		IncludeTaxCurrency: s.cfg.IncludeTaxCurrency,
		Money:              money,
		Formatter:          domain.DefaultFormatter(),
	}

	var rows []report.Row
	for _, ot := range trades {
		if !ot.trade.Timestamp.Before(to) {
			break
		}
		d, err := mq.Trade(ot.trade)
		if err != nil {
			return report.Report{}, fmt.Errorf("order %s: %w", ot.order.Key(), err)
		}
		row, ok, err := builder.Row(ot.order, d)
		if err != nil {
			return report.Report{}, err
		}
		if !ok {
			continue
		}
		if row.HasUnaccounted() {
			slog.Warn("Pipeline: disposal without matching acquisition",
				"trade", row.TradeID, "currency", d.Currency, "unaccounted", row.Unaccounted.String())
		}
		slog.Debug("Pipeline: disposal", "trade", row.TradeID,
			"summary", report.RenderDisposal(d, s.cfg.TaxCurrency, builder.Formatter))
		rows = append(rows, row)
	}

	r := report.Report{
		TaxYear:     s.cfg.TaxYear,
		TaxCurrency: s.cfg.TaxCurrency,
		Ordering:    string(mq.Ordering()),
		Rows:        rows,
		Summary:     report.Summarize(rows),
		Balances:    mq.Balances(),
	}
	slog.Info("Pipeline: calculated report",
		"year", r.TaxYear,
		"disposals", r.Summary.Disposals,
		"unaccounted", r.Summary.Unaccounted,
		"profitLoss", r.Summary.ProfitLoss.String(),
	)
	return r, nil
}

// Balances returns the closing balances after every stored trade up to the
// end of the tax year.
func (s *Service) Balances(ctx context.Context) ([]balance.CurrencyBalance, error) {
	r, err := s.Calculate(ctx)
	if err != nil {
		return nil, err
	}
	return r.Balances, nil
}
