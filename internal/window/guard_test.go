package window

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func tx(side model.Side, onDay int) model.Transaction {
	return model.Transaction{
		ID:        "tx",
		HoldingID: "h1",
		Side:      side,
		TradeDate: day(onDay),
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(5),
	}
}

func TestCheck_NoDisposals(t *testing.T) {
	g := NewGuard(30)
	c := g.Check([]model.Transaction{tx(model.Buy, 0)}, day(10))
	if c.Blocked {
		t.Error("expected unblocked with no disposals")
	}
	if c.LastSaleDate != nil {
		t.Errorf("expected no last sale, got %s", c.LastSaleDate)
	}
}

func TestCheck_RecentDisposalBlocks(t *testing.T) {
	g := NewGuard(30)
	txs := []model.Transaction{tx(model.Buy, 0), tx(model.Sell, 10), tx(model.Sell, 5)}

	c := g.Check(txs, day(20))
	if !c.Blocked {
		t.Fatal("expected blocked 10 days after a disposal")
	}
	if c.DaysRemaining != 20 {
		t.Errorf("expected 20 days remaining, got %d", c.DaysRemaining)
	}
	if c.LastSaleDate == nil || !c.LastSaleDate.Equal(day(10)) {
		t.Errorf("expected last sale on day 10, got %v", c.LastSaleDate)
	}
}

func TestCheck_Boundaries(t *testing.T) {
	g := NewGuard(30)
	txs := []model.Transaction{tx(model.Sell, 0)}

	tests := []struct {
		asOf      int
		blocked   bool
		remaining int
	}{
		{0, true, 30}, // same day
		{29, true, 1},
		{30, true, 0},  // last matched day
		{31, false, 0}, // first free day
	}
	for _, tt := range tests {
		c := g.Check(txs, day(tt.asOf))
		if c.Blocked != tt.blocked || c.DaysRemaining != tt.remaining {
			t.Errorf("day %d: got blocked=%v remaining=%d, want %v/%d",
				tt.asOf, c.Blocked, c.DaysRemaining, tt.blocked, tt.remaining)
		}
	}
}

func TestCheck_IgnoresFutureDisposals(t *testing.T) {
	g := NewGuard(30)
	c := g.Check([]model.Transaction{tx(model.Sell, 50)}, day(40))
	if c.Blocked {
		t.Error("a disposal after as-of must not block")
	}
}

func TestAllow(t *testing.T) {
	g := NewGuard(30)
	txs := []model.Transaction{tx(model.Sell, 0)}

	if err := g.Allow(txs, day(5)); !errors.Is(err, ErrRepurchaseWindow) {
		t.Errorf("expected ErrRepurchaseWindow, got %v", err)
	}
	if err := g.Allow(txs, day(45)); err != nil {
		t.Errorf("expected nil outside window, got %v", err)
	}
}

func TestNewGuard_ClampsDays(t *testing.T) {
	if g := NewGuard(0); g.Days != 1 {
		t.Errorf("expected clamp to 1, got %d", g.Days)
	}
}
