// Package pool implements the Section 104 share pool: every acquisition of
// one security that is not matched under the same-day or 30-day rules is
// merged into a single holding with a weighted-average cost.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Average cost is a decimal quotient (decimal.DivisionPrecision fractional
// digits); pooled cost itself is never rounded.
package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

// ErrInsufficientPool is matched by every *InsufficientPoolError.
var ErrInsufficientPool = errors.New("pool: insufficient shares in Section 104 pool")

// ErrInvalidQuantity is returned when a purchase or disposal quantity is
// not positive, or a purchase carries a negative price or fees.
var ErrInvalidQuantity = errors.New("pool: quantity must be positive")

// InsufficientPoolError is returned when a disposal asks for more shares
// than the pool (plus any same-day and 30-day matches) can supply.
type InsufficientPoolError struct {
	HoldingID     string
	TransactionID string
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientPoolError) Error() string {
	msg := fmt.Sprintf("insufficient shares in Section 104 pool: requested %s, available %s",
		e.Requested.String(), e.Available.String())
	if e.TransactionID != "" {
		msg += " (disposal " + e.TransactionID + ")"
	}
	if e.HoldingID != "" {
		msg += " for holding " + e.HoldingID
	}
	return msg
}

func (e *InsufficientPoolError) Is(target error) bool {
	return target == ErrInsufficientPool
}

// Pool is the mutable Section 104 pool of one holding.
// Invariant: quantity ≥ 0, cost ≥ 0, and cost is zero whenever quantity is.
type Pool struct {
	holdingID string
	quantity  decimal.Decimal
	cost      decimal.Decimal
}

// New returns an empty pool for the holding.
func New(holdingID string) *Pool {
	return &Pool{holdingID: holdingID}
}

// FromState restores a pool from its persisted form.
func FromState(s model.PoolState) *Pool {
	return &Pool{holdingID: s.HoldingID, quantity: s.PooledQuantity, cost: s.PooledCost}
}

// HoldingID returns the owning holding.
func (p *Pool) HoldingID() string { return p.holdingID }

// Quantity returns the pooled quantity.
func (p *Pool) Quantity() decimal.Decimal { return p.quantity }

// Cost returns the pooled allowable cost.
func (p *Pool) Cost() decimal.Decimal { return p.cost }

// AverageCost is cost / quantity, or zero for an empty pool.
func (p *Pool) AverageCost() decimal.Decimal {
	if !p.quantity.IsPositive() {
		return decimal.Zero
	}
	return p.cost.Div(p.quantity)
}

// AddPurchase pools qty shares bought at price with the given fees. qty must
// be positive; price and fees must not be negative. The pool is left
// untouched on error.
func (p *Pool) AddPurchase(qty, price, fees decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: purchase of %s", ErrInvalidQuantity, qty.String())
	}
	if price.IsNegative() || fees.IsNegative() {
		return fmt.Errorf("%w: purchase at price %s with fees %s", ErrInvalidQuantity, price.String(), fees.String())
	}
	p.quantity = p.quantity.Add(qty)
	p.cost = p.cost.Add(qty.Mul(price)).Add(fees)
	return nil
}

// RemoveDisposal takes qty shares out of the pool at the current average
// cost and returns that average. The pool is left untouched on error.
func (p *Pool) RemoveDisposal(qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: disposal of %s", ErrInvalidQuantity, qty.String())
	}
	if qty.GreaterThan(p.quantity) {
		return decimal.Zero, &InsufficientPoolError{
			HoldingID: p.holdingID,
			Requested: qty,
			Available: p.quantity,
		}
	}

	avg := p.AverageCost()
	p.quantity = p.quantity.Sub(qty)
	if p.quantity.IsZero() {
		// Emptying the pool releases all remaining cost; the quotient may
		// not multiply back exactly.
		p.cost = decimal.Zero
	} else {
		p.cost = p.cost.Sub(qty.Mul(avg))
		if p.cost.IsNegative() {
			p.cost = decimal.Zero
		}
	}
	return avg, nil
}

// State returns the persisted form of the pool.
func (p *Pool) State(updatedAt time.Time) model.PoolState {
	return model.PoolState{
		HoldingID:      p.holdingID,
		PooledQuantity: p.quantity,
		PooledCost:     p.cost,
		UpdatedAt:      updatedAt,
	}
}
