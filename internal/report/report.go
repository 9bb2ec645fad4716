// Package report assembles UK CGT reports for a tax year across a client's
// holdings and renders them as CSV.
package report

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/compliance"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/store"
	"github.com/taxlot/cgt-engine/internal/taxyear"
	"github.com/taxlot/cgt-engine/internal/totals"
)

// Replayer computes the disposals of one holding.
type Replayer interface {
	PreviewHolding(ctx context.Context, holdingID string) (compliance.Result, error)
}

// ExemptAmountFunc returns the Annual Exempt Amount of a tax year.
type ExemptAmountFunc func(taxyear.TaxYear) (decimal.Decimal, error)

// Line is one disposal on the report.
type Line struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	model.Disposal
}

// FailedHolding is a holding left out of a report because its replay
// failed.
type FailedHolding struct {
	HoldingID string `json:"holding_id"`
	Ticker    string `json:"ticker"`
	Error     string `json:"error"`
}

// Report is a CGT report for one tax year.
type Report struct {
	TaxYear     taxyear.TaxYear `json:"tax_year"`
	ClientID    string          `json:"client_id,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Totals      totals.Totals   `json:"totals"`
	Disposals   []Line          `json:"disposals"`
	Failed      []FailedHolding `json:"failed_holdings,omitempty"`
}

// Request selects what to report on.
type Request struct {
	TaxYear  taxyear.TaxYear
	ClientID string // empty → every holding

	// SkipFailed leaves holdings whose replay fails out of the report
	// instead of aborting it.
	SkipFailed bool
}

// Generator builds reports. The exempt amount lookup is resolved before any
// holding is replayed, so a missing amount fails the whole report.
type Generator struct {
	store        store.Store
	replayer     Replayer
	exemptAmount ExemptAmountFunc
	now          func() time.Time
}

// NewGenerator creates a report generator.
func NewGenerator(st store.Store, replayer Replayer, exemptAmount ExemptAmountFunc) *Generator {
	return &Generator{
		store:        st,
		replayer:     replayer,
		exemptAmount: exemptAmount,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Generate replays every selected holding and totals the disposals that
// fall in the tax year.
func (g *Generator) Generate(ctx context.Context, req Request) (*Report, error) {
	aea, err := g.exemptAmount(req.TaxYear)
	if err != nil {
		return nil, err
	}

	holdings, err := g.store.ListHoldings(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}

	rep := &Report{
		TaxYear:     req.TaxYear,
		ClientID:    req.ClientID,
		GeneratedAt: g.now(),
		Disposals:   []Line{},
	}

	var disposals []model.Disposal
	for _, h := range holdings {
		res, err := g.replayer.PreviewHolding(ctx, h.ID)
		if err != nil {
			if !req.SkipFailed {
				return nil, fmt.Errorf("holding %s (%s): %w", h.ID, h.Ticker, err)
			}
			slog.Warn("holding skipped in report",
				"holding", h.ID, "ticker", h.Ticker, "tax_year", req.TaxYear.String(), "err", err)
			rep.Failed = append(rep.Failed, FailedHolding{HoldingID: h.ID, Ticker: h.Ticker, Error: err.Error()})
			continue
		}
		for _, d := range res.Disposals {
			if !req.TaxYear.Contains(d.TradeDate) {
				continue
			}
			disposals = append(disposals, d)
			rep.Disposals = append(rep.Disposals, Line{Ticker: h.Ticker, Name: h.Name, Disposal: d})
		}
	}

	slices.SortStableFunc(rep.Disposals, func(a, b Line) int {
		if c := a.TradeDate.Compare(b.TradeDate); c != 0 {
			return c
		}
		return cmp.Compare(a.Ticker, b.Ticker)
	})
	rep.Totals = totals.ForTaxYear(disposals, req.TaxYear, aea)

	slog.Info("report generated",
		"tax_year", req.TaxYear.String(),
		"client", req.ClientID,
		"disposals", rep.Totals.TotalDisposals,
		"net_gains", rep.Totals.NetGains.String(),
		"skipped", len(rep.Failed),
	)
	return rep, nil
}
