package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taxlot/cgt-engine/internal/metrics"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/store"
)

// Summary is the outcome of one import.
type Summary struct {
	Processed  int      `json:"records_processed"`
	Successful int      `json:"records_successful"`
	Failed     int      `json:"records_failed"`
	Errors     []string `json:"errors"`

	// HoldingIDs lists the holdings that received transactions, in first
	// touched order. Their pools are stale until they are processed.
	HoldingIDs []string `json:"holding_ids"`
}

// Status is COMPLETED when every row was recorded, FAILED otherwise.
func (s Summary) Status() string {
	if s.Failed == 0 {
		return "COMPLETED"
	}
	return "FAILED"
}

// Importer records CSV rows as transactions of a client's holdings,
// creating holdings on first sight. It never touches pools: those are
// rebuilt by replaying the holding afterwards.
type Importer struct {
	store  store.Store
	parser Parser
	now    func() time.Time
}

// NewImporter creates an importer writing to st.
func NewImporter(st store.Store) *Importer {
	now := func() time.Time { return time.Now().UTC() }
	return &Importer{store: st, parser: Parser{Today: now}, now: now}
}

// Import parses r and records each valid row for clientID. Row failures are
// counted and reported; only unreadable input returns an error.
func (im *Importer) Import(ctx context.Context, clientID string, r io.Reader) (Summary, error) {
	rows, rowErrs, err := im.parser.Parse(r)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Processed: len(rows) + len(rowErrs), Errors: []string{}, HoldingIDs: []string{}}
	for _, re := range rowErrs {
		sum.Failed++
		sum.Errors = append(sum.Errors, re.Error())
	}

	touched := make(map[string]bool)
	for _, row := range rows {
		holdingID, err := im.record(ctx, clientID, row)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, (&RowError{Line: row.Line, Err: err}).Error())
			slog.Warn("csv row rejected", "client", clientID, "line", row.Line, "err", err)
			continue
		}
		sum.Successful++
		if !touched[holdingID] {
			touched[holdingID] = true
			sum.HoldingIDs = append(sum.HoldingIDs, holdingID)
		}
	}

	slog.Info("csv import finished",
		"client", clientID,
		"processed", sum.Processed,
		"successful", sum.Successful,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (im *Importer) record(ctx context.Context, clientID string, row Row) (string, error) {
	tx := model.Transaction{
		ID:        uuid.New().String(),
		Side:      row.Side,
		TradeDate: model.Day(row.TradeDate),
		Quantity:  row.Quantity,
		Price:     row.Price,
		Fees:      row.Fees,
		Account:   "GIA",
		CreatedAt: im.now(),
	}
	if err := tx.Validate(); err != nil {
		return "", err
	}

	holding, err := im.holding(ctx, clientID, row)
	if err != nil {
		return "", err
	}
	tx.HoldingID = holding.ID
	if err := im.store.InsertTransaction(ctx, &tx); err != nil {
		return "", err
	}
	metrics.TransactionsRecorded.WithLabelValues(string(tx.Side), "csv").Inc()
	return holding.ID, nil
}

// holding finds the client's holding of row's ticker or creates it.
func (im *Importer) holding(ctx context.Context, clientID string, row Row) (*model.Holding, error) {
	h, err := im.store.GetHoldingByTicker(ctx, clientID, row.Ticker)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	h = &model.Holding{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Ticker:    row.Ticker,
		Name:      row.Name,
		Sector:    row.Sector,
		CreatedAt: im.now(),
	}
	if err := im.store.CreateHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("create holding %s: %w", row.Ticker, err)
	}
	slog.Info("holding created from import", "client", clientID, "ticker", h.Ticker, "id", h.ID)
	return h, nil
}
