package report

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mtlprog/ctax/internal/balance"
	"github.com/mtlprog/ctax/internal/domain"
)

// TextWriter prints a readable report for terminals.
type TextWriter struct {
	out io.Writer
	f   domain.Formatter
}

// NewTextWriter creates a TextWriter printing to out.
func NewTextWriter(out io.Writer, f domain.Formatter) *TextWriter {
	return &TextWriter{out: out, f: f}
}

func (w *TextWriter) Write(_ context.Context, r Report) error {
	tc := r.TaxCurrency
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "date\texchange\ttrade\tsold\tcost\tproceeds\tprofit / loss\t\n")
	for _, row := range r.Rows {
		flag := ""
		if row.HasUnaccounted() {
			flag = "unaccounted " + w.f.Format(row.Unaccounted, row.Sell.Currency)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			domain.FormatDateTime(row.Time), row.Exchange, row.TradeID,
			w.f.Format(row.Sell.Amount, row.Sell.Currency),
			w.f.Format(row.TotalCost, tc),
			w.f.Format(row.NetProceeds, tc),
			w.f.Format(row.ProfitLoss, tc),
			flag)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	s := r.Summary
	_, err := fmt.Fprintf(w.out, "\n%d %s disposals in %d (%d unaccounted): gains %s, losses %s, profit / loss %s\n",
		s.Disposals, r.Ordering, r.TaxYear, s.Unaccounted,
		w.f.Format(s.Gains, tc), w.f.Format(s.Losses, tc), w.f.Format(s.ProfitLoss, tc))
	return err
}

// WriteBalances prints closing balances as a table.
func WriteBalances(out io.Writer, balances []balance.CurrencyBalance, f domain.Formatter) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "currency\tamount\tlots\t\n")
	for _, b := range balances {
		fmt.Fprintf(tw, "%s\t%s\t%d\t\n", b.Currency, f.Format(b.Amount, b.Currency), b.Lots)
	}
	return tw.Flush()
}
