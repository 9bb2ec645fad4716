package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedHolding(t *testing.T, s *MemoryStore, id, client, ticker string) {
	t.Helper()
	h := &model.Holding{ID: id, ClientID: client, Ticker: ticker, Name: ticker + " plc", CreatedAt: time.Now().UTC()}
	if err := s.CreateHolding(context.Background(), h); err != nil {
		t.Fatalf("seed holding: %v", err)
	}
}

func TestMemoryStore_HoldingLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")
	seedHolding(t, s, "h2", "c1", "BARC")
	seedHolding(t, s, "h3", "c2", "VOD")

	h, err := s.GetHoldingByTicker(ctx, "c1", "vod")
	if err != nil {
		t.Fatalf("GetHoldingByTicker: %v", err)
	}
	if h.ID != "h1" {
		t.Errorf("expected h1, got %s", h.ID)
	}

	list, _ := s.ListHoldings(ctx, "c1")
	if len(list) != 2 || list[0].Ticker != "BARC" || list[1].Ticker != "VOD" {
		t.Errorf("expected [BARC VOD], got %+v", list)
	}
	all, _ := s.ListHoldings(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 holdings, got %d", len(all))
	}

	if _, err := s.GetHolding(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DuplicateTickerRejected(t *testing.T) {
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")

	err := s.CreateHolding(context.Background(), &model.Holding{ID: "h2", ClientID: "c1", Ticker: "vod"})
	if err == nil {
		t.Fatal("expected duplicate ticker error")
	}
}

func TestMemoryStore_InsertAssignsSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")

	var seqs []int64
	for _, id := range []string{"t1", "t2", "t3"} {
		tx := &model.Transaction{ID: id, HoldingID: "h1", Side: model.Buy, Quantity: d("1"), Price: d("1")}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		seqs = append(seqs, tx.Seq)
	}
	if !(seqs[0] < seqs[1] && seqs[1] < seqs[2]) {
		t.Errorf("expected increasing seq, got %v", seqs)
	}

	err := s.InsertTransaction(ctx, &model.Transaction{ID: "t4", HoldingID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown holding, got %v", err)
	}

	txs, _ := s.ListTransactions(ctx, "h1")
	if len(txs) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(txs))
	}
}

func TestMemoryStore_SaveReplayReplacesState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")

	first := []model.DisposalMatch{
		{ID: "m1", HoldingID: "h1", SellTxID: "s1", BuyTxID: "b1", QtyMatched: d("10")},
		{ID: "m2", HoldingID: "h1", SellTxID: "s1", BuyTxID: "b2", QtyMatched: d("5"), Seq: 1},
	}
	if err := s.SaveReplay(ctx, model.PoolState{HoldingID: "h1", PooledQuantity: d("100"), PooledCost: d("1500")}, first); err != nil {
		t.Fatalf("SaveReplay: %v", err)
	}

	second := []model.DisposalMatch{{ID: "m3", HoldingID: "h1", SellTxID: "s2", BuyTxID: "b3", QtyMatched: d("1")}}
	if err := s.SaveReplay(ctx, model.PoolState{HoldingID: "h1", PooledQuantity: d("50"), PooledCost: d("750")}, second); err != nil {
		t.Fatalf("SaveReplay: %v", err)
	}

	p, err := s.GetPool(ctx, "h1")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if !p.PooledQuantity.Equal(d("50")) {
		t.Errorf("expected pooled qty 50, got %s", p.PooledQuantity)
	}
	matches, _ := s.ListMatches(ctx, "h1")
	if len(matches) != 1 || matches[0].ID != "m3" {
		t.Errorf("expected only m3 after second replay, got %+v", matches)
	}
}

func TestMemoryStore_SaveReplayAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")

	good := []model.DisposalMatch{{ID: "m1", HoldingID: "h1"}}
	if err := s.SaveReplay(ctx, model.PoolState{HoldingID: "h1", PooledQuantity: d("10")}, good); err != nil {
		t.Fatalf("SaveReplay: %v", err)
	}

	bad := []model.DisposalMatch{{ID: "m2", HoldingID: "h1"}, {ID: "m3", HoldingID: "other"}}
	if err := s.SaveReplay(ctx, model.PoolState{HoldingID: "h1", PooledQuantity: d("99")}, bad); err == nil {
		t.Fatal("expected error for foreign match")
	}

	p, _ := s.GetPool(ctx, "h1")
	if !p.PooledQuantity.Equal(d("10")) {
		t.Errorf("pool should be untouched after failed save, got %s", p.PooledQuantity)
	}
	matches, _ := s.ListMatches(ctx, "h1")
	if len(matches) != 1 || matches[0].ID != "m1" {
		t.Errorf("matches should be untouched after failed save, got %+v", matches)
	}
}

func TestMemoryStore_ClearCompliance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")
	_ = s.SaveReplay(ctx, model.PoolState{HoldingID: "h1", PooledQuantity: d("10")}, []model.DisposalMatch{{ID: "m1", HoldingID: "h1"}})

	if err := s.ClearCompliance(ctx, "h1"); err != nil {
		t.Fatalf("ClearCompliance: %v", err)
	}
	if _, err := s.GetPool(ctx, "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
	if matches, _ := s.ListMatches(ctx, "h1"); len(matches) != 0 {
		t.Errorf("expected no matches after clear, got %d", len(matches))
	}
}

func TestMemoryStore_InsertTransactionsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")
	seedHolding(t, s, "h2", "c1", "VUKE")

	sell := &model.Transaction{ID: "s1", HoldingID: "h1", Side: model.Sell, Quantity: d("1"), Price: d("1")}
	orphan := &model.Transaction{ID: "b1", HoldingID: "nope", Side: model.Buy, Quantity: d("1"), Price: d("1")}
	if err := s.InsertTransactions(ctx, sell, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if txs, _ := s.ListTransactions(ctx, "h1"); len(txs) != 0 {
		t.Fatalf("expected nothing recorded, got %d transactions", len(txs))
	}

	buy := &model.Transaction{ID: "b2", HoldingID: "h2", Side: model.Buy, Quantity: d("1"), Price: d("1")}
	if err := s.InsertTransactions(ctx, sell, buy); err != nil {
		t.Fatalf("InsertTransactions: %v", err)
	}
	if sell.Seq == 0 || buy.Seq <= sell.Seq {
		t.Errorf("expected increasing seq, got %d then %d", sell.Seq, buy.Seq)
	}
}

func TestMemoryStore_Harvests(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedHolding(t, s, "h1", "c1", "VOD")
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := s.CreateHarvest(ctx, &model.Harvest{ID: "x", HoldingID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown holding, got %v", err)
	}
	for i, id := range []string{"old", "new"} {
		h := &model.Harvest{ID: id, ClientID: "c1", HoldingID: "h1", Status: model.HarvestPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.CreateHarvest(ctx, h); err != nil {
			t.Fatalf("CreateHarvest %s: %v", id, err)
		}
	}

	list, _ := s.ListHarvests(ctx, "c1", "")
	if len(list) != 2 || list[0].ID != "new" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	h, err := s.GetHarvest(ctx, "old")
	if err != nil {
		t.Fatalf("GetHarvest: %v", err)
	}
	h.Status = model.HarvestCancelled
	if err := s.UpdateHarvest(ctx, h); err != nil {
		t.Fatalf("UpdateHarvest: %v", err)
	}
	cancelled, _ := s.ListHarvests(ctx, "c1", model.HarvestCancelled)
	if len(cancelled) != 1 || cancelled[0].ID != "old" {
		t.Errorf("unexpected cancelled list %+v", cancelled)
	}
	if other, _ := s.ListHarvests(ctx, "c2", ""); len(other) != 0 {
		t.Errorf("expected no harvests for c2, got %d", len(other))
	}
	if err := s.UpdateHarvest(ctx, &model.Harvest{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
