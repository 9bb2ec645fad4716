// Package window reports whether a holding is inside the 30-day
// bed-and-breakfasting window of a recent disposal.
//
// A repurchase made within Days of a sale is matched back to that sale and
// any loss on it is disallowed, so harvesting a loss and buying back inside
// the window achieves nothing. The guard answers "is it safe to buy back
// (or harvest again) on asOf?" from the holding's transaction history.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/taxlot/cgt-engine/internal/model"
)

// ErrRepurchaseWindow is returned by Allow when a repurchase on the given
// date would be matched to an earlier disposal.
var ErrRepurchaseWindow = errors.New("window: inside 30-day repurchase window")

// Constraint is the window state of one holding on one date.
type Constraint struct {
	Blocked bool `json:"blocked"`

	// DaysRemaining counts the days after AsOf on which a repurchase would
	// still be matched. Zero while blocked means AsOf is the last such day.
	DaysRemaining int `json:"days_remaining"`

	// LastSaleDate is the most recent disposal at or before AsOf, if any.
	LastSaleDate *time.Time `json:"last_sale_date,omitempty"`

	AsOf    time.Time `json:"as_of"`
	Message string    `json:"message"`
}

// Guard checks the forward window that the matching engine applies.
type Guard struct {
	// Days is the length of the window. A purchase on sale date + Days is
	// still matched.
	Days int
}

// NewGuard creates a guard for the given window length.
func NewGuard(days int) *Guard {
	if days < 1 {
		days = 1
	}
	return &Guard{Days: days}
}

// Check inspects txs for the latest disposal on or before asOf. Disposals
// dated after asOf are ignored.
func (g *Guard) Check(txs []model.Transaction, asOf time.Time) Constraint {
	asOf = model.Day(asOf)
	c := Constraint{AsOf: asOf, Message: fmt.Sprintf("No disposal in the last %d days", g.Days)}

	var last time.Time
	for _, tx := range txs {
		if tx.Side != model.Sell {
			continue
		}
		day := model.Day(tx.TradeDate)
		if day.After(asOf) {
			continue
		}
		if day.After(last) {
			last = day
		}
	}
	if last.IsZero() {
		return c
	}
	c.LastSaleDate = &last

	since := int(asOf.Sub(last).Hours() / 24)
	if since > g.Days {
		return c
	}

	c.Blocked = true
	c.DaysRemaining = g.Days - since
	c.Message = fmt.Sprintf("Within %d days of a disposal on %s, repurchase blocked for %d more days",
		g.Days, last.Format(model.DateLayout), c.DaysRemaining)
	return c
}

// Allow returns an error wrapping ErrRepurchaseWindow when Check reports
// the holding as blocked.
func (g *Guard) Allow(txs []model.Transaction, asOf time.Time) error {
	c := g.Check(txs, asOf)
	if !c.Blocked {
		return nil
	}
	return fmt.Errorf("%w: last disposal %s, %d days remaining",
		ErrRepurchaseWindow, c.LastSaleDate.Format(model.DateLayout), c.DaysRemaining)
}
