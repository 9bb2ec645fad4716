package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

// WriteCSV renders rep as a summary block followed by one row per disposal.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	t := rep.Totals

	records := [][]string{
		{"UK Capital Gains Tax Report", rep.TaxYear.String()},
		{"Generated:", rep.GeneratedAt.Format("2006-01-02 15:04:05")},
		{},
		{"SUMMARY"},
		{"Total Disposals", strconv.Itoa(t.TotalDisposals)},
		{"Total Proceeds", Pounds(t.TotalProceeds)},
		{"Total Cost", Pounds(t.TotalCost)},
		{"Gross Gains", Pounds(t.GrossGains)},
		{"Gross Losses", Pounds(t.GrossLosses)},
		{"Disallowed Losses (30-day rule)", Pounds(t.DisallowedLosses)},
		{"Net Gains", Pounds(t.NetGains)},
		{"Annual Exempt Amount", Pounds(t.AnnualExemptAmount)},
		{"Taxable Gains", Pounds(t.TaxableGains)},
		{"Carry Forward Losses", Pounds(t.CarryForwardLosses)},
		{},
		{"DISPOSALS DETAIL"},
		{"Date", "Ticker", "Name", "Quantity", "Price", "Proceeds",
			"Cost", "Gain/Loss", "Disallowed Loss", "Allowable Gain/Loss"},
	}
	for _, l := range rep.Disposals {
		records = append(records, []string{
			l.TradeDate.Format(model.DateLayout),
			l.Ticker,
			l.Name,
			l.Quantity.String(),
			Pounds(l.Price),
			Pounds(l.Proceeds),
			Pounds(l.Cost),
			Pounds(l.GainLoss),
			Pounds(l.DisallowedLoss),
			Pounds(l.AllowableGainLoss()),
		})
	}

	if len(rep.Failed) > 0 {
		records = append(records, []string{}, []string{"SKIPPED HOLDINGS"}, []string{"Holding", "Ticker", "Error"})
		for _, f := range rep.Failed {
			records = append(records, []string{f.HoldingID, f.Ticker, f.Error})
		}
	}

	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return cw.Error()
}

// Pounds formats v as £1,234.56. Negative values keep the sign after the
// symbol: £-150.00.
func Pounds(v decimal.Decimal) string {
	s := v.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "£" + sign + b.String() + "." + frac
}
