package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var today = time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)

func newParser() *Parser {
	return &Parser{Today: func() time.Time { return today }}
}

func TestParse_FormatsAndDefaults(t *testing.T) {
	input := strings.Join([]string{
		"Ticker,Name,Sector,Quantity,Avg_Cost,Trade_Date,Side,Fees",
		`vod,Vodafone,Telecoms,"1,000",£0.75,2024-05-01,buy,£9.95`,
		`BARC,Barclays,Banks,200,$2.10,15/06/2024,SELL,`,
		`LLOY,Lloyds,Banks,50,0.55,,,`,
		`,,,,,,,`,
	}, "\n")

	rows, rowErrs, err := newParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("unexpected row errors: %v", rowErrs)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (blank skipped), got %d", len(rows))
	}

	vod := rows[0]
	if vod.Ticker != "VOD" || vod.Side != model.Buy || !vod.Quantity.Equal(d("1000")) ||
		!vod.Price.Equal(d("0.75")) || !vod.Fees.Equal(d("9.95")) {
		t.Errorf("unexpected VOD row %+v", vod)
	}

	barc := rows[1]
	if barc.Side != model.Sell || !barc.TradeDate.Equal(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected BARC row %+v", barc)
	}
	if !barc.Fees.IsZero() {
		t.Errorf("blank fees should be zero, got %s", barc.Fees)
	}

	lloy := rows[2]
	if lloy.Side != model.Buy {
		t.Errorf("blank side should default to BUY, got %s", lloy.Side)
	}
	if !lloy.TradeDate.Equal(model.Day(today)) {
		t.Errorf("blank date should default to today, got %s", lloy.TradeDate)
	}
}

func TestParse_DateLayouts(t *testing.T) {
	want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, v := range []string{"2024-03-04", "04/03/2024", "04-03-2024", "2024/03/04"} {
		got, err := newParser().parseDate(v)
		if err != nil || !got.Equal(want) {
			t.Errorf("parseDate(%q) = %s, %v", v, got, err)
		}
	}
	// Month-first is only used when day-first is impossible.
	got, err := newParser().parseDate("12/25/2024")
	if err != nil || !got.Equal(time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseDate(12/25/2024) = %s, %v", got, err)
	}
	if _, err := newParser().parseDate("March 4th"); !errors.Is(err, ErrInvalidRow) {
		t.Errorf("expected ErrInvalidRow, got %v", err)
	}
}

func TestParse_RowErrors(t *testing.T) {
	input := strings.Join([]string{
		"ticker,name,quantity,avg_cost,side,trade_date",
		"VOD,,10,1,BUY,2024-01-01",
		"VOD,Vodafone,ten,1,BUY,2024-01-01",
		"VOD,Vodafone,10,1,HOLD,2024-01-01",
		"VOD,Vodafone,10,1,BUY,yesterday",
		"VOD,Vodafone,10,1,BUY,2024-01-01",
	}, "\n")

	rows, rowErrs, err := newParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 good row, got %d", len(rows))
	}
	if len(rowErrs) != 4 {
		t.Fatalf("expected 4 row errors, got %d: %v", len(rowErrs), rowErrs)
	}
	for i, re := range rowErrs {
		if re.Line != i+1 {
			t.Errorf("row error %d reports line %d", i, re.Line)
		}
	}
}

func TestParse_MissingHeader(t *testing.T) {
	_, _, err := newParser().Parse(strings.NewReader("ticker,name,quantity\nVOD,Vodafone,1\n"))
	if !errors.Is(err, ErrMissingHeader) {
		t.Errorf("expected ErrMissingHeader, got %v", err)
	}
}

func TestImport_CreatesHoldingsAndTransactions(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	im := NewImporter(ms)

	input := strings.Join([]string{
		"ticker,name,sector,quantity,avg_cost,trade_date,side,fees",
		"VOD,Vodafone,Telecoms,100,0.75,2024-05-01,BUY,5",
		"VOD,Vodafone,Telecoms,40,0.80,2024-06-01,SELL,5",
		"BARC,Barclays,Banks,0,2.10,2024-06-01,BUY,0",
		"BARC,Barclays,Banks,10,2.10,2024-06-02,BUY,0",
	}, "\n")

	sum, err := im.Import(ctx, "c1", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if sum.Processed != 4 || sum.Successful != 3 || sum.Failed != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Status() != "FAILED" {
		t.Errorf("expected FAILED status with a bad row, got %s", sum.Status())
	}
	if len(sum.HoldingIDs) != 2 {
		t.Errorf("expected 2 touched holdings, got %v", sum.HoldingIDs)
	}

	vod, err := ms.GetHoldingByTicker(ctx, "c1", "VOD")
	if err != nil {
		t.Fatalf("VOD holding not created: %v", err)
	}
	txs, _ := ms.ListTransactions(ctx, vod.ID)
	if len(txs) != 2 {
		t.Errorf("expected 2 VOD transactions, got %d", len(txs))
	}
	if _, err := ms.GetPool(ctx, vod.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("import must not build pools, got %v", err)
	}

	// A second import reuses the holding.
	again, err := im.Import(ctx, "c1", strings.NewReader("ticker,name,quantity,avg_cost\nvod,Vodafone,1,1\n"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if again.HoldingIDs[0] != vod.ID {
		t.Errorf("expected reuse of holding %s, got %v", vod.ID, again.HoldingIDs)
	}
	holdings, _ := ms.ListHoldings(ctx, "c1")
	if len(holdings) != 2 {
		t.Errorf("expected 2 holdings, got %d", len(holdings))
	}
}
