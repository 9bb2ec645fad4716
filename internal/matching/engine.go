// Package matching implements the HMRC share identification rules for a
// single disposal, in strict priority order:
//
//  1. same-day acquisitions, in creation order (never disallowed);
//  2. acquisitions in the following window (30 days by default), earliest
//     first, where a loss on the matched chunk is disallowed in full;
//  3. the Section 104 pool at its average cost.
//
// Gain or loss on each chunk is (sell price − unit cost) × quantity. Fees on
// the disposal do not enter the calculation; acquisition fees reach gains only
// through the pool's cost.
//
// All monetary values use shopspring/decimal, never float64 for money.
package matching

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/pool"
)

// DefaultWindowDays is the statutory bed-and-breakfasting window.
const DefaultWindowDays = 30

var (
	// ErrInvalidWindow is returned when the window is not a positive number
	// of days.
	ErrInvalidWindow = errors.New("matching: window must be a positive number of days")

	// matchNamespace seeds deterministic match IDs so that replaying the same
	// history yields the same audit records.
	matchNamespace = uuid.MustParse("6f1c8e0a-3d1b-5b7e-9a52-4c1f0de2b7a1")
)

// Engine resolves disposals. It is stateless: the acquisition book and the
// pool are passed in, not stored.
type Engine struct {
	windowDays int
}

// NewEngine creates an engine with the given forward window in days.
func NewEngine(windowDays int) (*Engine, error) {
	if windowDays <= 0 {
		return nil, ErrInvalidWindow
	}
	return &Engine{windowDays: windowDays}, nil
}

// WindowDays returns the forward matching window.
func (e *Engine) WindowDays() int {
	return e.windowDays
}

// take is a planned consumption of one acquisition.
type take struct {
	lot  *Lot
	qty  decimal.Decimal
	rule model.Rule
}

// Match identifies the shares disposed of by sell, consuming acquisitions
// from book and, for any remainder, shares from p.
//
// Matches are planned before anything is consumed: when the pool cannot
// cover the remainder, an *pool.InsufficientPoolError is returned and
// neither book nor p is modified.
//
// The returned DisposalMatch records cover 30-day matches only; their Seq is
// left for the caller to assign.
func (e *Engine) Match(sell model.Transaction, book *Book, p *pool.Pool) (model.Disposal, []model.DisposalMatch, error) {
	disposal := model.Disposal{
		TransactionID:  sell.ID,
		HoldingID:      sell.HoldingID,
		TradeDate:      sell.TradeDate,
		Quantity:       sell.Quantity,
		Price:          sell.Price,
		Proceeds:       sell.Value(),
		SameDayQty:     decimal.Zero,
		ThirtyDayQty:   decimal.Zero,
		MatchedQty:     decimal.Zero,
		Section104Qty:  decimal.Zero,
		Cost:           decimal.Zero,
		GainLoss:       decimal.Zero,
		DisallowedLoss: decimal.Zero,
	}
	if sell.Side != model.Sell {
		return disposal, nil, &model.InvalidTransactionError{
			TransactionID: sell.ID, Field: "side", Reason: "must be SELL to be matched",
		}
	}
	if !sell.Quantity.IsPositive() {
		return disposal, nil, nil
	}

	// --- Plan ---
	remaining := sell.Quantity
	var takes []take

	claim := func(lots []*Lot, rule model.Rule) {
		for _, lot := range lots {
			if !remaining.IsPositive() {
				return
			}
			qty := decimal.Min(remaining, lot.Unconsumed)
			if !qty.IsPositive() {
				continue
			}
			takes = append(takes, take{lot: lot, qty: qty, rule: rule})
			remaining = remaining.Sub(qty)
		}
	}

	claim(book.sameDay(sell), model.RuleSameDay)
	if remaining.IsPositive() {
		claim(book.forward(sell, e.windowDays), model.RuleThirtyDay)
	}

	if remaining.GreaterThan(p.Quantity()) {
		return disposal, nil, &pool.InsufficientPoolError{
			HoldingID:     sell.HoldingID,
			TransactionID: sell.ID,
			Requested:     remaining,
			Available:     p.Quantity(),
		}
	}

	// --- Commit ---
	var matches []model.DisposalMatch
	for _, tk := range takes {
		tk.lot.Unconsumed = tk.lot.Unconsumed.Sub(tk.qty)

		unitCost := tk.lot.Tx.Price
		gainLoss := gainOrLoss(sell.Price, unitCost, tk.qty)
		leg := model.Leg{
			Rule:           tk.rule,
			BuyTxID:        tk.lot.Tx.ID,
			Quantity:       tk.qty,
			UnitCost:       unitCost,
			Cost:           unitCost.Mul(tk.qty),
			GainLoss:       gainLoss,
			DisallowedLoss: decimal.Zero,
		}

		switch tk.rule {
		case model.RuleSameDay:
			disposal.SameDayQty = disposal.SameDayQty.Add(tk.qty)
		case model.RuleThirtyDay:
			if gainLoss.IsNegative() {
				leg.DisallowedLoss = gainLoss.Abs()
			}
			disposal.ThirtyDayQty = disposal.ThirtyDayQty.Add(tk.qty)
			disposal.DisallowedLoss = disposal.DisallowedLoss.Add(leg.DisallowedLoss)
			matches = append(matches, model.DisposalMatch{
				ID:             MatchID(sell.ID, tk.lot.Tx.ID),
				HoldingID:      sell.HoldingID,
				SellTxID:       sell.ID,
				BuyTxID:        tk.lot.Tx.ID,
				SellDate:       sell.TradeDate,
				QtyMatched:     tk.qty,
				GainLoss:       gainLoss,
				DisallowedLoss: leg.DisallowedLoss,
			})
		}

		disposal.Cost = disposal.Cost.Add(leg.Cost)
		disposal.GainLoss = disposal.GainLoss.Add(gainLoss)
		disposal.Legs = append(disposal.Legs, leg)
	}
	disposal.MatchedQty = disposal.SameDayQty.Add(disposal.ThirtyDayQty)

	if remaining.IsPositive() {
		avg, err := p.RemoveDisposal(remaining)
		if err != nil {
			// Unreachable: sufficiency was checked above.
			return disposal, nil, err
		}
		cost := avg.Mul(remaining)
		gainLoss := gainOrLoss(sell.Price, avg, remaining)

		disposal.Section104Qty = remaining
		disposal.Section104AvgCost = decimal.NewNullDecimal(avg)
		disposal.Cost = disposal.Cost.Add(cost)
		disposal.GainLoss = disposal.GainLoss.Add(gainLoss)
		disposal.Legs = append(disposal.Legs, model.Leg{
			Rule:           model.RuleSection104,
			Quantity:       remaining,
			UnitCost:       avg,
			Cost:           cost,
			GainLoss:       gainLoss,
			DisallowedLoss: decimal.Zero,
		})
	}

	return disposal, matches, nil
}

// MatchID is the deterministic audit ID for a disposal/acquisition pair.
func MatchID(sellTxID, buyTxID string) string {
	return uuid.NewSHA1(matchNamespace, []byte(sellTxID+"/"+buyTxID)).String()
}

func gainOrLoss(sellPrice, unitCost, qty decimal.Decimal) decimal.Decimal {
	return sellPrice.Sub(unitCost).Mul(qty)
}
