package balance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/lots"
)

// Match is the share of one earlier acquisition consumed by a disposal.
// Share is fragment amount / acquiring trade's BUY amount; Cost and BuyingFees
// are that share of the acquiring trade's SELL and FEE converted amounts.
type Match struct {
	Fragment   lots.Fragment
	Share      decimal.Decimal
	Cost       decimal.Decimal
	BuyingFees decimal.Decimal
}

// Unaccounted reports whether the match has no acquiring trade.
func (m Match) Unaccounted() bool {
	return m.Fragment.Unaccounted()
}

// Disposal is the cost and proceeds breakdown of one trade's SELL leg.
// Monetary fields except Amount and UnaccountedAmount are in tax currency.
type Disposal struct {
	Trade    *domain.Trade
	Currency string
	// Amount sold, in Currency.
	Amount decimal.Decimal
	// UnaccountedAmount is the part of Amount not covered by any lot.
	UnaccountedAmount decimal.Decimal
	Matches           []Match

	Cost        decimal.Decimal
	BuyingFees  decimal.Decimal
	Proceeds    decimal.Decimal
	SellingFees decimal.Decimal
	ProfitLoss  decimal.Decimal
	// FeesDeductible records whether fees entered ProfitLoss.
	FeesDeductible bool
}

// HasUnaccounted reports whether part of the disposal had no recorded acquisition.
func (d Disposal) HasUnaccounted() bool {
	return d.UnaccountedAmount.IsPositive()
}

// TotalCost is cost plus buying fees.
func (d Disposal) TotalCost() decimal.Decimal {
	return d.Cost.Add(d.BuyingFees)
}

// NetProceeds is proceeds minus selling fees.
func (d Disposal) NetProceeds() decimal.Decimal {
	return d.Proceeds.Sub(d.SellingFees)
}

// newDisposal computes the breakdown of trade's SELL leg against fragments.
// trade must already be validated and resolved.
func newDisposal(trade *domain.Trade, fragments []lots.Fragment, feesDeductible bool, m domain.Money) (Disposal, error) {
	sell, err := trade.Leg(domain.LegSell)
	if err != nil {
		return Disposal{}, err
	}
	fee, err := trade.Leg(domain.LegFee)
	if err != nil {
		return Disposal{}, err
	}
	proceeds, _ := sell.Converted()
	sellingFees, _ := fee.Converted()

	d := Disposal{
		Trade:             trade,
		Currency:          sell.Currency,
		Amount:            sell.Amount,
		UnaccountedAmount: decimal.Zero,
		Matches:           make([]Match, 0, len(fragments)),
		Cost:              decimal.Zero,
		BuyingFees:        decimal.Zero,
		Proceeds:          proceeds,
		SellingFees:       sellingFees,
		FeesDeductible:    feesDeductible,
	}

	for _, f := range fragments {
		match, err := matchFragment(f, m)
		if err != nil {
			return Disposal{}, err
		}
		if match.Unaccounted() {
			d.UnaccountedAmount = d.UnaccountedAmount.Add(f.Amount)
		}
		d.Cost = d.Cost.Add(match.Cost)
		d.BuyingFees = d.BuyingFees.Add(match.BuyingFees)
		d.Matches = append(d.Matches, match)
	}

	if feesDeductible {
		d.ProfitLoss = d.NetProceeds().Sub(d.TotalCost())
	} else {
		d.ProfitLoss = d.Proceeds.Sub(d.Cost)
	}
	return d, nil
}

func matchFragment(f lots.Fragment, m domain.Money) (Match, error) {
	if f.Unaccounted() {
		return Match{Fragment: f, Share: decimal.Zero, Cost: decimal.Zero, BuyingFees: decimal.Zero}, nil
	}

	origin := f.Trade
	buy, err := origin.Leg(domain.LegBuy)
	if err != nil {
		return Match{}, err
	}
	sell, err := origin.Leg(domain.LegSell)
	if err != nil {
		return Match{}, err
	}
	fee, err := origin.Leg(domain.LegFee)
	if err != nil {
		return Match{}, err
	}
	sellValue, ok := sell.Converted()
	if !ok {
		return Match{}, unresolved(origin, sell)
	}
	feeValue, ok := fee.Converted()
	if !ok {
		return Match{}, unresolved(origin, fee)
	}

	share, err := m.Div(f.Amount, buy.Amount)
	if err != nil {
		return Match{}, fmt.Errorf("share of trade %q: %w", origin.SourceID, err)
	}
	cost, err := m.Share(sellValue, f.Amount, buy.Amount)
	if err != nil {
		return Match{}, fmt.Errorf("cost of trade %q: %w", origin.SourceID, err)
	}
	buyingFees, err := m.Share(feeValue, f.Amount, buy.Amount)
	if err != nil {
		return Match{}, fmt.Errorf("fees of trade %q: %w", origin.SourceID, err)
	}
	return Match{Fragment: f, Share: share, Cost: cost, BuyingFees: buyingFees}, nil
}
