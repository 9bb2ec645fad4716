package model

import (
	"cmp"
	"slices"
)

// CompareReplayOrder orders transactions by trade day, then creation order.
// The time of day never takes part: two trades on one day are ordered by Seq
// alone. ID breaks any remaining tie so the order is total.
func CompareReplayOrder(a, b Transaction) int {
	if c := Day(a.TradeDate).Compare(Day(b.TradeDate)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortForReplay returns a copy of txs in replay order. The input is not
// modified, and no ordering supplied by a store is relied upon.
func SortForReplay(txs []Transaction) []Transaction {
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, CompareReplayOrder)
	return sorted
}
