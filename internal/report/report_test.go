package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/ctax/internal/balance"
	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/lots"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func leg(typ domain.LegType, currency, amount, converted string, rate *domain.ExchangeRate) domain.Leg {
	return domain.Leg{Type: typ, Currency: currency, Amount: d(amount)}.WithConversion(d(converted), rate)
}

var (
	bought = time.Date(2018, 2, 1, 10, 0, 0, 0, time.UTC)
	sold   = time.Date(2018, 5, 10, 12, 0, 0, 0, time.UTC)
)

func newBuilder() Builder {
	from, to := domain.YearBounds(2018)
	return Builder{
		TaxCurrency: "EUR",
		From:        from,
		To:          to,
		Money:       domain.NewMoney(domain.DefaultPrecision),
		Formatter:   domain.DefaultFormatter(),
	}
}

// disposals buys 0.5 BTC for 250 EUR and then sells 0.7 BTC for 420 EUR.
func disposals(t *testing.T) (buy, sell balance.Disposal) {
	t.Helper()
	mq, err := balance.NewMultiQueue(lots.FIFO, true, domain.NewMoney(domain.DefaultPrecision))
	if err != nil {
		t.Fatalf("NewMultiQueue: %v", err)
	}

	btcRate := &domain.ExchangeRate{Base: "BTC", Quote: "EUR", Rate: d("600"), Timestamp: sold, Source: domain.CoinGeckoSource}
	trades := []*domain.Trade{
		domain.NewTrade("t1", bought, []domain.Leg{
			leg(domain.LegSell, "EUR", "250", "250", nil),
			leg(domain.LegBuy, "BTC", "0.5", "250", nil),
			leg(domain.LegFee, "EUR", "0", "0", nil),
		}),
		domain.NewTrade("t2", sold, []domain.Leg{
			leg(domain.LegSell, "BTC", "0.7", "420", btcRate),
			leg(domain.LegBuy, "EUR", "420", "420", nil),
			leg(domain.LegFee, "EUR", "1", "1", nil),
		}),
	}

	var out []balance.Disposal
	for _, tr := range trades {
		disposal, err := mq.Trade(tr)
		if err != nil {
			t.Fatalf("Trade(%s): %v", tr.SourceID, err)
		}
		out = append(out, disposal)
	}
	return out[0], out[1]
}

func buildRow(t *testing.T) Row {
	t.Helper()
	_, sell := disposals(t)
	row, ok, err := newBuilder().Row(domain.Order{SourceID: "o2", Exchange: "kraken"}, sell)
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	if !ok {
		t.Fatal("disposal of BTC should be reported")
	}
	return row
}

func TestBuilderRow(t *testing.T) {
	row := buildRow(t)

	if row.Exchange != "kraken" || row.OrderID != "o2" || row.TradeID != "t2" {
		t.Errorf("identity = %s/%s/%s, want kraken/o2/t2", row.Exchange, row.OrderID, row.TradeID)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"cost", row.Cost, "250"},
		{"total cost", row.TotalCost, "250"},
		{"proceeds", row.Proceeds, "420"},
		{"selling fees", row.SellingFees, "1"},
		{"net proceeds", row.NetProceeds, "419"},
		{"profit/loss", row.ProfitLoss, "169"},
		{"unaccounted", row.Unaccounted, "0.2"},
	}
	for _, c := range checks {
		if !c.got.Equal(d(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	if !row.Sell.Rate.Valid || !row.Sell.Rate.Decimal.Equal(d("600")) {
		t.Errorf("sell rate = %v, want 600", row.Sell.Rate)
	}
	if row.Sell.RateSource != "coingecko" || row.Sell.RateTime == nil {
		t.Errorf("sell rate source = %q, time = %v", row.Sell.RateSource, row.Sell.RateTime)
	}
	if row.Buy.Rate.Valid || row.Buy.RateTime != nil {
		t.Error("tax currency leg should carry no rate")
	}
	if !row.HasUnaccounted() {
		t.Error("row should report unaccounted amount")
	}

	wantLots := "0.50000 BTC of t1 (01.02.2018) = 250.00 EUR; 0.20000 BTC unaccounted"
	if row.Lots != wantLots {
		t.Errorf("lots = %q, want %q", row.Lots, wantLots)
	}
}

func TestBuilderSkips(t *testing.T) {
	buy, sell := disposals(t)
	b := newBuilder()
	order := domain.Order{SourceID: "o", Exchange: "kraken"}

	if _, ok, _ := b.Row(order, buy); ok {
		t.Error("disposal of tax currency should be skipped")
	}

	b.IncludeTaxCurrency = true
	if _, ok, _ := b.Row(order, buy); !ok {
		t.Error("disposal of tax currency should be kept when included")
	}

	b = newBuilder()
	b.From, b.To = domain.YearBounds(2019)
	if _, ok, _ := b.Row(order, sell); ok {
		t.Error("disposal outside the tax year should be skipped")
	}

	zero := sell
	zero.Amount = decimal.Zero
	if _, ok, _ := newBuilder().Row(order, zero); ok {
		t.Error("zero disposal should be skipped")
	}
}

func TestRenderDisposal(t *testing.T) {
	_, sell := disposals(t)
	got := RenderDisposal(sell, "EUR", domain.DefaultFormatter())
	want := "total: sold 0.70000 BTC cost 250.00 EUR, proceeds 420.00 EUR P/L: 169.00 EUR"
	if got != want {
		t.Errorf("RenderDisposal = %q, want %q", got, want)
	}
}

func TestSummarize(t *testing.T) {
	rows := []Row{
		{Cost: d("100"), Proceeds: d("150"), SellingFees: d("1"), ProfitLoss: d("49")},
		{Cost: d("80"), BuyingFees: d("2"), Proceeds: d("60"), ProfitLoss: d("-22"), Unaccounted: d("0.1")},
		{Cost: d("10"), Proceeds: d("10"), ProfitLoss: d("0")},
	}

	s := Summarize(rows)
	if s.Disposals != 3 || s.Unaccounted != 1 {
		t.Errorf("counts = %d/%d, want 3/1", s.Disposals, s.Unaccounted)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"cost", s.Cost, "190"},
		{"buying fees", s.BuyingFees, "2"},
		{"proceeds", s.Proceeds, "220"},
		{"selling fees", s.SellingFees, "1"},
		{"gains", s.Gains, "49"},
		{"losses", s.Losses, "-22"},
		{"profit/loss", s.ProfitLoss, "27"},
	}
	for _, c := range checks {
		if !c.got.Equal(d(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	empty := Summarize(nil)
	if empty.Disposals != 0 || !empty.ProfitLoss.IsZero() {
		t.Errorf("empty summary = %+v", empty)
	}
}

func testReport(t *testing.T) Report {
	row := buildRow(t)
	rows := []Row{row}
	return Report{
		TaxYear:     2018,
		TaxCurrency: "EUR",
		Ordering:    string(lots.FIFO),
		Rows:        rows,
		Summary:     Summarize(rows),
		Balances: []balance.CurrencyBalance{
			{Currency: "EUR", Amount: d("170"), Lots: 2},
		},
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewCSVWriter(&buf).Write(context.Background(), testReport(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	header := Header("EUR")
	if strings.Join(records[0], "|") != strings.Join(header, "|") {
		t.Errorf("header = %v", records[0])
	}

	record := map[string]string{}
	for i, name := range header {
		record[name] = records[1][i]
	}
	want := map[string]string{
		"date / time":                 "10.05.2018 12:00:00 UTC",
		"trade id":                    "t2",
		"sell amount":                 "0.7",
		"sell exchange rate":          "600",
		"sell exchange rate source":   "coingecko",
		"buy exchange rate":           "",
		"profit / loss EUR":           "169",
		"unaccounted amount":          "0.2",
		"proceeds - selling fees EUR": "419",
	}
	for col, v := range want {
		if record[col] != v {
			t.Errorf("%s = %q, want %q", col, record[col], v)
		}
	}
}

func TestCSVFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	if err := NewCSVFileWriter(path).Write(context.Background(), testReport(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := NewCSVFileWriter(filepath.Join(t.TempDir(), "missing", "report.csv")).Write(context.Background(), testReport(t)); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}

func TestXLSXWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := NewXLSXWriter(path).Write(context.Background(), testReport(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); strings.Join(got, ",") != "Disposals,Summary,Balances" {
		t.Errorf("sheets = %v", got)
	}

	rows, err := f.GetRows(SheetDisposals)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("disposal rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "date / time" || rows[1][3] != "t2" {
		t.Errorf("unexpected disposal rows: %v", rows)
	}

	summary, err := f.GetRows(SheetSummary)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if summary[0][0] != "tax year" || summary[0][1] != "2018" {
		t.Errorf("summary first row = %v", summary[0])
	}

	balances, err := f.GetRows(SheetBalances)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(balances) != 2 || balances[1][0] != "EUR" || balances[1][1] != "170" {
		t.Errorf("balances = %v", balances)
	}
}

type recordingWriter struct {
	calls int
	err   error
}

func (w *recordingWriter) Write(context.Context, Report) error {
	w.calls++
	return w.err
}

func TestMultiWriterStopsOnError(t *testing.T) {
	first := &recordingWriter{err: context.Canceled}
	second := &recordingWriter{}
	err := MultiWriter{first, second}.Write(context.Background(), Report{})
	if err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Error("second writer should not be called after a failure")
	}
}
