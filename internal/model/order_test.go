package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSortForReplay_DayThenSeq(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)
	one := decimal.NewFromInt(1)
	txs := []Transaction{
		{ID: "c", Side: Buy, TradeDate: time.Date(2024, 1, 11, 1, 0, 0, 0, time.UTC), Quantity: one, Price: one, Seq: 1},
		{ID: "b", Side: Buy, TradeDate: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), Quantity: one, Price: one, Seq: 3},
		{ID: "a", Side: Buy, TradeDate: time.Date(2024, 1, 10, 23, 30, 0, 0, ny), Quantity: one, Price: one, Seq: 2},
	}

	got := SortForReplay(txs)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s (order %v)", i, id, got[i].ID, ids(got))
		}
	}
	if txs[0].ID != "c" {
		t.Errorf("input was reordered")
	}
}

func TestDay_UsesOwnLocation(t *testing.T) {
	ny := time.FixedZone("EST", -5*60*60)
	got := Day(time.Date(2024, 1, 10, 23, 30, 0, 0, ny))
	want := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("Day = %s, want %s", got, want)
	}
}

func ids(txs []Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
