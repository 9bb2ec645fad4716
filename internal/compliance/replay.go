// Package compliance rolls a holding's full transaction history through the
// matching engine to produce its Section 104 pool, the disposal ledger and the
// 30-day match audit trail.
package compliance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/matching"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/pool"
)

// Result is the outcome of replaying one holding.
type Result struct {
	HoldingID string                `json:"holding_id"`
	Pool      model.PoolState       `json:"pool"`
	Disposals []model.Disposal      `json:"disposals"`
	Matches   []model.DisposalMatch `json:"matches"`
}

// Replay processes txs from scratch and returns the resulting pool, one
// Disposal per SELL and every 30-day match, in replay order.
//
// Trade dates are reduced to their trade day (model.Day) and transactions are
// explicitly sorted by trade day then creation order. On
// each trade date the disposals are resolved first; only afterwards does each
// of that date's acquisitions enter the pool, and then only with the quantity
// no disposal claimed. Acquisition fees follow the pooled share of the
// acquisition.
//
// Replay is pure: the same input always yields the same Result, and on error
// nothing is returned.
func Replay(holdingID string, txs []model.Transaction, engine *matching.Engine) (Result, error) {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return Result{}, err
		}
		if tx.HoldingID != holdingID {
			return Result{}, &model.InvalidTransactionError{
				TransactionID: tx.ID,
				Field:         "holding_id",
				Reason:        fmt.Sprintf("belongs to %s, not %s", tx.HoldingID, holdingID),
			}
		}
	}

	ordered := make([]model.Transaction, len(txs))
	for i, tx := range txs {
		tx.TradeDate = model.Day(tx.TradeDate)
		ordered[i] = tx
	}
	ordered = model.SortForReplay(ordered)
	book := matching.NewBook(ordered)
	p := pool.New(holdingID)

	result := Result{
		HoldingID: holdingID,
		Disposals: []model.Disposal{},
		Matches:   []model.DisposalMatch{},
	}

	for i := 0; i < len(ordered); {
		day := model.Day(ordered[i].TradeDate)
		j := i
		for j < len(ordered) && model.Day(ordered[j].TradeDate).Equal(day) {
			j++
		}

		for _, tx := range ordered[i:j] {
			if tx.Side != model.Sell {
				continue
			}
			disposal, matches, err := engine.Match(tx, book, p)
			if err != nil {
				return Result{}, fmt.Errorf("replay holding %s at %s: %w",
					holdingID, day.Format(model.DateLayout), err)
			}
			for _, m := range matches {
				m.Seq = len(result.Matches)
				result.Matches = append(result.Matches, m)
			}
			result.Disposals = append(result.Disposals, disposal)
		}

		for _, lot := range book.AcquiredOn(day) {
			if err := poolResidual(p, lot); err != nil {
				return Result{}, fmt.Errorf("replay holding %s at %s: %w",
					holdingID, day.Format(model.DateLayout), err)
			}
		}

		i = j
	}

	// UpdatedAt is stamped by whoever persists the result.
	result.Pool = p.State(time.Time{})
	return result, nil
}

// poolResidual adds the unclaimed part of an acquisition to the pool.
func poolResidual(p *pool.Pool, lot *matching.Lot) error {
	residual := lot.Unconsumed
	if !residual.IsPositive() {
		return nil
	}
	fees := lot.Tx.Fees
	if !residual.Equal(lot.Tx.Quantity) {
		fees = fees.Mul(residual).Div(lot.Tx.Quantity)
	}
	return p.AddPurchase(residual, lot.Tx.Price, fees)
}

// Summary aggregates a Result for logging and notifications.
type Summary struct {
	Disposals      int             `json:"disposals"`
	Matches        int             `json:"matches"`
	GainLoss       decimal.Decimal `json:"gain_loss"`
	DisallowedLoss decimal.Decimal `json:"disallowed_loss"`
}

// Summarize totals the disposals of r.
func (r Result) Summarize() Summary {
	s := Summary{Disposals: len(r.Disposals), Matches: len(r.Matches)}
	for _, d := range r.Disposals {
		s.GainLoss = s.GainLoss.Add(d.GainLoss)
		s.DisallowedLoss = s.DisallowedLoss.Add(d.DisallowedLoss)
	}
	return s
}
