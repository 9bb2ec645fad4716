// Package totals aggregates disposals over a period into the figures that go
// on a UK CGT return: gross gains and losses, the Annual Exempt Amount, the
// taxable gain and any loss carried forward.
package totals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/taxyear"
)

// Totals are the period figures for one set of disposals.
type Totals struct {
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	TotalDisposals     int             `json:"total_disposals"`
	TotalProceeds      decimal.Decimal `json:"total_proceeds"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	GrossGains         decimal.Decimal `json:"gross_gains"`
	GrossLosses        decimal.Decimal `json:"gross_losses"`
	DisallowedLosses   decimal.Decimal `json:"disallowed_losses"`
	NetGains           decimal.Decimal `json:"net_gains"`
	AnnualExemptAmount decimal.Decimal `json:"annual_exempt_amount"`
	TaxableGains       decimal.Decimal `json:"taxable_gains"`
	CarryForwardLosses decimal.Decimal `json:"carry_forward_losses"`
}

// Compute totals the disposals whose trade date falls in [from, to], both
// ends inclusive. Disposals outside the window are ignored.
//
// Disallowed losses are added back to each disposal before it is classified
// as a gain or a loss. The exempt amount only reduces a positive net gain; a
// net loss is carried forward in full.
func Compute(disposals []model.Disposal, from, to time.Time, aea decimal.Decimal) Totals {
	from, to = model.Day(from), model.Day(to)
	t := Totals{From: from, To: to, AnnualExemptAmount: aea}

	for _, d := range disposals {
		day := model.Day(d.TradeDate)
		if day.Before(from) || day.After(to) {
			continue
		}
		t.TotalDisposals++
		t.TotalProceeds = t.TotalProceeds.Add(d.Proceeds)
		t.TotalCost = t.TotalCost.Add(d.Cost)
		t.DisallowedLosses = t.DisallowedLosses.Add(d.DisallowedLoss)

		allowable := d.AllowableGainLoss()
		if allowable.IsPositive() {
			t.GrossGains = t.GrossGains.Add(allowable)
		} else {
			t.GrossLosses = t.GrossLosses.Add(allowable.Abs())
		}
	}

	t.NetGains = t.GrossGains.Sub(t.GrossLosses)
	if t.NetGains.IsPositive() {
		t.TaxableGains = decimal.Max(decimal.Zero, t.NetGains.Sub(aea))
	} else {
		t.CarryForwardLosses = t.NetGains.Abs()
	}
	return t
}

// ForTaxYear totals the disposals made between 6 April and 5 April of ty.
func ForTaxYear(disposals []model.Disposal, ty taxyear.TaxYear, aea decimal.Decimal) Totals {
	return Compute(disposals, ty.Start(), ty.End(), aea)
}
