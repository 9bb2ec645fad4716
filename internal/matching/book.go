package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

// Lot is one acquisition together with the part of it no disposal has
// claimed yet.
type Lot struct {
	Tx         model.Transaction
	Unconsumed decimal.Decimal
}

// Book tracks unconsumed quantity for every acquisition of a holding across
// a whole replay. It is built from the full transaction set, so disposals can
// look ahead to acquisitions the replay has not reached.
type Book struct {
	lots  []*Lot // replay order
	index map[string]*Lot
}

// NewBook indexes the BUY transactions of txs. SELLs are ignored.
func NewBook(txs []model.Transaction) *Book {
	b := &Book{index: make(map[string]*Lot)}
	for _, tx := range model.SortForReplay(txs) {
		if tx.Side != model.Buy {
			continue
		}
		lot := &Lot{Tx: tx, Unconsumed: tx.Quantity}
		b.lots = append(b.lots, lot)
		b.index[tx.ID] = lot
	}
	return b
}

// Unconsumed returns how much of acquisition txID is still unclaimed, or
// zero for an unknown ID.
func (b *Book) Unconsumed(txID string) decimal.Decimal {
	if lot, ok := b.index[txID]; ok {
		return lot.Unconsumed
	}
	return decimal.Zero
}

// sameDay returns acquisitions traded on the disposal's date, in creation
// order.
func (b *Book) sameDay(sell model.Transaction) []*Lot {
	day := model.Day(sell.TradeDate)
	var out []*Lot
	for _, lot := range b.lots {
		if model.Day(lot.Tx.TradeDate).Equal(day) {
			out = append(out, lot)
		}
	}
	return out
}

// forward returns acquisitions with sell date < trade date ≤ sell date + days,
// earliest first, then by creation order.
func (b *Book) forward(sell model.Transaction, days int) []*Lot {
	from := model.Day(sell.TradeDate)
	until := from.AddDate(0, 0, days)
	var out []*Lot
	for _, lot := range b.lots {
		day := model.Day(lot.Tx.TradeDate)
		if day.After(from) && !day.After(until) {
			out = append(out, lot)
		}
	}
	return out
}

// AcquiredOn returns the acquisitions traded on day, in creation order.
func (b *Book) AcquiredOn(day time.Time) []*Lot {
	day = model.Day(day)
	var out []*Lot
	for _, lot := range b.lots {
		if model.Day(lot.Tx.TradeDate).Equal(day) {
			out = append(out, lot)
		}
	}
	return out
}
