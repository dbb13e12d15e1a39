package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/balance"
	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/importer"
	"github.com/mtlprog/ctax/internal/lots"
	"github.com/mtlprog/ctax/internal/rates"
	"github.com/mtlprog/ctax/internal/report"
	"github.com/mtlprog/ctax/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func leg(typ domain.LegType, currency, amount string) domain.Leg {
	return domain.Leg{Type: typ, Currency: currency, Amount: d(amount)}
}

type mockImporter struct {
	orders []domain.Order
	err    error
	calls  int
}

func (m *mockImporter) ImportAll(_ []importer.Format) ([]domain.Order, error) {
	m.calls++
	return m.orders, m.err
}

type captureWriter struct {
	reports []report.Report
}

func (w *captureWriter) Write(_ context.Context, r report.Report) error {
	w.reports = append(w.reports, r)
	return nil
}

var (
	bought = time.Date(2017, 12, 1, 9, 0, 0, 0, time.UTC)
	sold   = time.Date(2018, 3, 1, 9, 0, 0, 0, time.UTC)
)

// testOrders buys 1 BTC for 1000 EUR in 2017 and sells half of it for USD in 2018.
func testOrders() []domain.Order {
	return []domain.Order{
		{SourceID: "o2", Exchange: "kraken", Trades: []*domain.Trade{
			domain.NewTrade("t2", sold, []domain.Leg{
				leg(domain.LegSell, "BTC", "0.5"),
				leg(domain.LegBuy, "USD", "4000"),
				leg(domain.LegFee, "USD", "1"),
			}),
		}},
		{SourceID: "o1", Exchange: "kraken", Trades: []*domain.Trade{
			domain.NewTrade("t1", bought, []domain.Leg{
				leg(domain.LegSell, "EUR", "1000"),
				leg(domain.LegBuy, "BTC", "1"),
				leg(domain.LegFee, "EUR", "0"),
			}),
		}},
	}
}

func newTestService(repo store.Repository, im Importer, w report.Writer) *Service {
	from, to := domain.YearBounds(2018)
	book := rates.NewBook(from, to)
	book.Add(
		domain.ExchangeRate{Base: "BTC", Quote: "EUR", Rate: d("9000"), Timestamp: sold, Source: domain.CoinGeckoSource},
		domain.ExchangeRate{Base: "EUR", Quote: "USD", Rate: d("1.25"), Timestamp: sold, Source: domain.FrankfurterSource},
	)
	money := domain.NewMoney(domain.DefaultPrecision)
	resolver := rates.NewResolver(book, "EUR", money)

	return NewService(repo, im, nil, resolver, w, Config{
		TaxYear:        2018,
		TaxCurrency:    "EUR",
		Ordering:       lots.FIFO,
		FeesDeductible: true,
		Precision:      domain.DefaultPrecision,
	})
}

func TestRunAllSteps(t *testing.T) {
	repo := store.NewMemoryRepository()
	im := &mockImporter{orders: testOrders()}
	w := &captureWriter{}
	svc := newTestService(repo, im, w)

	if err := svc.Run(context.Background(), StepImport); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.reports) != 1 {
		t.Fatalf("reports written = %d, want 1", len(w.reports))
	}

	r := w.reports[0]
	if len(r.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(r.Rows))
	}
	row := r.Rows[0]
	if row.TradeID != "t2" || row.OrderID != "o2" {
		t.Errorf("row = %s/%s, want o2/t2", row.OrderID, row.TradeID)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"cost", row.Cost, "500"},
		{"proceeds", row.Proceeds, "4500"},
		{"selling fees", row.SellingFees, "0.8"},
		{"profit/loss", row.ProfitLoss, "3999.2"},
		{"summary profit/loss", r.Summary.ProfitLoss, "3999.2"},
	}
	for _, c := range checks {
		if !c.got.Equal(d(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	balances := map[string]balance.CurrencyBalance{}
	for _, b := range r.Balances {
		balances[b.Currency] = b
	}
	if !balances["BTC"].Amount.Equal(d("0.5")) {
		t.Errorf("BTC balance = %s, want 0.5", balances["BTC"].Amount)
	}
	if !balances["USD"].Amount.Equal(d("4000")) {
		t.Errorf("USD balance = %s, want 4000 (fees never change balances)", balances["USD"].Amount)
	}
}

func TestRunFromCalculateSkipsImport(t *testing.T) {
	repo := store.NewMemoryRepository()
	im := &mockImporter{orders: testOrders()}
	svc := newTestService(repo, im, &captureWriter{})
	ctx := context.Background()

	if err := svc.Run(ctx, StepImport); err != nil {
		t.Fatalf("Run: %v", err)
	}
	im.orders = nil

	w := &captureWriter{}
	svc.writer = w
	if err := svc.Run(ctx, StepCalculate); err != nil {
		t.Fatalf("Run(calculate): %v", err)
	}
	if im.calls != 1 {
		t.Errorf("importer calls = %d, want 1", im.calls)
	}
	if len(w.reports) != 1 || len(w.reports[0].Rows) != 1 {
		t.Errorf("report should be calculated from stored orders")
	}
}

func TestCalculateWithoutRatesFails(t *testing.T) {
	repo := store.NewMemoryRepository()
	im := &mockImporter{orders: testOrders()}
	svc := newTestService(repo, im, nil)
	ctx := context.Background()

	if err := svc.Import(ctx); err != nil {
		t.Fatalf("Import: %v", err)
	}
	_, err := svc.Calculate(ctx)
	if !errors.Is(err, balance.ErrUnresolvedLeg) {
		t.Errorf("error = %v, want ErrUnresolvedLeg", err)
	}
}

func TestResolveRatesMissingRate(t *testing.T) {
	repo := store.NewMemoryRepository()
	orders := testOrders()
	orders[0].Trades[0].Legs[0].Currency = "ETH"
	svc := newTestService(repo, &mockImporter{orders: orders}, nil)

	err := svc.Run(context.Background(), StepImport)
	var missing *rates.MissingRateError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingRateError", err)
	}
	if missing.Base != "ETH" || missing.Quote != "EUR" {
		t.Errorf("missing rate = %s/%s, want ETH/EUR", missing.Base, missing.Quote)
	}
}

func TestImportError(t *testing.T) {
	svc := newTestService(store.NewMemoryRepository(), &mockImporter{err: importer.ErrColumn}, nil)
	if err := svc.Run(context.Background(), StepImport); !errors.Is(err, importer.ErrColumn) {
		t.Errorf("error = %v, want ErrColumn", err)
	}
}

func TestRunInvalidStep(t *testing.T) {
	svc := newTestService(store.NewMemoryRepository(), &mockImporter{}, nil)
	for _, step := range []int{0, 4} {
		if err := svc.Run(context.Background(), step); err == nil {
			t.Errorf("Run(%d) should fail", step)
		}
	}
}

func TestReimportReplacesOrders(t *testing.T) {
	repo := store.NewMemoryRepository()
	im := &mockImporter{orders: testOrders()}
	svc := newTestService(repo, im, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.Import(ctx); err != nil {
			t.Fatalf("Import: %v", err)
		}
	}
	orders, err := repo.LoadOrders(ctx)
	if err != nil {
		t.Fatalf("LoadOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("orders = %d, want 2", len(orders))
	}
	if orders[0].SourceID != "o1" {
		t.Errorf("first order = %s, want o1", orders[0].SourceID)
	}
}

// blockingResolver holds ResolveOrders open until release is closed.
type blockingResolver struct {
	next    Resolver
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingResolver) ResolveOrders(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return r.next.ResolveOrders(ctx, orders)
}

func TestCalculateWaitsForRerun(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := newTestService(repo, &mockImporter{orders: testOrders()}, nil)
	ctx := context.Background()
	if err := svc.Run(ctx, StepImport); err != nil {
		t.Fatalf("Run: %v", err)
	}

	blocking := &blockingResolver{
		next:    svc.resolver,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc.resolver = blocking

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx, StepRates) }()
	<-blocking.started

	type result struct {
		r   report.Report
		err error
	}
	calc := make(chan result, 1)
	go func() {
		r, err := svc.Calculate(ctx)
		calc <- result{r, err}
	}()

	select {
	case res := <-calc:
		t.Fatalf("Calculate returned during rerun: err=%v", res.err)
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	if err := <-runErr; err != nil {
		t.Fatalf("Run(rates): %v", err)
	}
	res := <-calc
	if res.err != nil {
		t.Fatalf("Calculate after rerun: %v", res.err)
	}
	if len(res.r.Rows) != 1 || !res.r.Summary.ProfitLoss.Equal(d("3999.2")) {
		t.Errorf("report = %d rows, P/L %s, want 1 row, 3999.2", len(res.r.Rows), res.r.Summary.ProfitLoss)
	}
}

func TestConcurrentRunsSerialize(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := newTestService(repo, &mockImporter{orders: testOrders()}, nil)
	ctx := context.Background()
	if err := svc.Run(ctx, StepImport); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- svc.Run(ctx, StepRates)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Calculate(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent run: %v", err)
		}
	}
}
