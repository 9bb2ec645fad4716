// Package harvest records loss harvests: selling a holding that stands at a
// loss so the loss is realised, optionally replacing it with a different
// security. A harvest is created PENDING after the 30-day window and the
// unrealised loss are checked, then executed (the SELL and replacement BUY
// are recorded together and both holdings replayed) or cancelled.
//
// The sale price is always supplied by the caller; nothing here fetches
// market data or places orders.
package harvest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/compliance"
	"github.com/taxlot/cgt-engine/internal/metrics"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/security"
	"github.com/taxlot/cgt-engine/internal/store"
	"github.com/taxlot/cgt-engine/internal/window"
)

var (
	// ErrInvalidRequest rejects malformed harvest requests.
	ErrInvalidRequest = errors.New("harvest: invalid request")

	// ErrNoPosition is returned when the holding has no pooled shares.
	ErrNoPosition = errors.New("harvest: no pooled shares to harvest")

	// ErrNoLoss is returned when selling at the given price would not
	// realise a loss.
	ErrNoLoss = errors.New("harvest: no unrealised loss at the sell price")

	// ErrNotPending is returned when executing or cancelling a harvest that
	// is no longer pending.
	ErrNotPending = errors.New("harvest: not pending")
)

// Replacement is the optional purchase made with the sale proceeds.
type Replacement struct {
	Ticker   string          `json:"ticker"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fees     decimal.Decimal `json:"fees"`
}

// Request describes a harvest to create.
type Request struct {
	HoldingID string
	ClientID  string // when set, must own the holding

	SellPrice decimal.Decimal
	SellFees  decimal.Decimal
	SellDate  time.Time // zero → today

	Replacement *Replacement
	Notes       string
}

// Replayer is the part of the compliance service a harvest needs.
type Replayer interface {
	PreviewWith(ctx context.Context, holdingID string, proposed ...model.Transaction) (compliance.Result, error)
	ProcessHolding(ctx context.Context, holdingID string) (compliance.Result, error)
}

// Service creates, executes and cancels harvests.
type Service struct {
	store    store.Store
	replayer Replayer
	guard    *window.Guard
	now      func() time.Time

	// execMu serialises state changes so a harvest is executed at most once.
	execMu sync.Mutex
}

// NewService creates a harvest service.
func NewService(st store.Store, replayer Replayer, guard *window.Guard) *Service {
	return &Service{
		store:    st,
		replayer: replayer,
		guard:    guard,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create checks that harvesting is allowed and records a PENDING harvest of
// the whole pooled position. Nothing is recorded when a check fails.
func (s *Service) Create(ctx context.Context, req Request) (*model.Harvest, error) {
	if !req.SellPrice.IsPositive() {
		return nil, fmt.Errorf("%w: sell_price must be positive", ErrInvalidRequest)
	}
	if req.SellFees.IsNegative() {
		return nil, fmt.Errorf("%w: sell_fees must not be negative", ErrInvalidRequest)
	}

	holding, err := s.store.GetHolding(ctx, req.HoldingID)
	if err != nil {
		return nil, err
	}
	if req.ClientID != "" && holding.ClientID != req.ClientID {
		return nil, fmt.Errorf("%w: holding %s does not belong to client %s",
			ErrInvalidRequest, holding.ID, req.ClientID)
	}

	now := s.now()
	sellDate := model.Day(now)
	if !req.SellDate.IsZero() {
		sellDate = model.Day(req.SellDate)
	}

	h := &model.Harvest{
		ID:        uuid.New().String(),
		ClientID:  holding.ClientID,
		HoldingID: holding.ID,
		Status:    model.HarvestPending,
		SellPrice: req.SellPrice,
		SellFees:  req.SellFees,
		SellDate:  sellDate,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Replacement != nil {
		if err := applyReplacement(h, holding, *req.Replacement); err != nil {
			return nil, err
		}
	}

	res, err := s.replayer.PreviewWith(ctx, holding.ID)
	if err != nil {
		return nil, err
	}
	if !res.Pool.PooledQuantity.IsPositive() {
		return nil, fmt.Errorf("%w: holding %s", ErrNoPosition, holding.ID)
	}
	h.Quantity = res.Pool.PooledQuantity
	h.AverageCost = res.Pool.AverageCost()
	h.UnrealisedLoss = h.AverageCost.Sub(h.SellPrice).Mul(h.Quantity)
	if !h.UnrealisedLoss.IsPositive() {
		return nil, fmt.Errorf("%w: average cost %s, sell price %s",
			ErrNoLoss, h.AverageCost.StringFixed(2), h.SellPrice.String())
	}

	if err := s.checkWindow(ctx, holding.ID, sellDate); err != nil {
		return nil, err
	}

	if err := s.store.CreateHarvest(ctx, h); err != nil {
		return nil, err
	}
	metrics.HarvestsTotal.WithLabelValues(string(h.Status)).Inc()

	slog.Info("harvest created",
		"id", h.ID,
		"holding", holding.ID,
		"ticker", holding.Ticker,
		"qty", h.Quantity.String(),
		"unrealised_loss", h.UnrealisedLoss.StringFixed(2),
	)
	return h, nil
}

func applyReplacement(h *model.Harvest, holding *model.Holding, r Replacement) error {
	ticker, err := security.NormalizeTicker(r.Ticker)
	if err != nil {
		return err
	}
	// Buying back the same security would be matched to the sale.
	if strings.EqualFold(ticker, holding.Ticker) {
		return fmt.Errorf("%w: replacement %s is the harvested security", ErrInvalidRequest, ticker)
	}
	if !r.Quantity.IsPositive() || !r.Price.IsPositive() || r.Fees.IsNegative() {
		return fmt.Errorf("%w: replacement needs positive quantity and price and non-negative fees", ErrInvalidRequest)
	}
	h.ReplacementTicker = ticker
	h.ReplacementName = cmp.Or(strings.TrimSpace(r.Name), ticker)
	h.ReplacementQty = r.Quantity
	h.ReplacementPrice = r.Price
	h.ReplacementFees = r.Fees
	return nil
}

// Execute records the SELL and any replacement BUY in one store write and
// replays both holdings. A harvest whose sale can no longer be matched (the
// window closed on it, or the pool shrank) is marked FAILED and nothing is
// recorded.
func (s *Service) Execute(ctx context.Context, id string) (*model.Harvest, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	h, err := s.store.GetHarvest(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HarvestPending {
		return nil, fmt.Errorf("%w: harvest %s is %s", ErrNotPending, h.ID, h.Status)
	}

	if err := s.checkWindow(ctx, h.HoldingID, h.SellDate); err != nil {
		return s.fail(ctx, h, err)
	}

	now := s.now()
	sell := model.Transaction{
		ID:        uuid.New().String(),
		HoldingID: h.HoldingID,
		Side:      model.Sell,
		TradeDate: h.SellDate,
		Quantity:  h.Quantity,
		Price:     h.SellPrice,
		Fees:      h.SellFees,
		Account:   "GIA",
		CreatedAt: now,
	}
	if _, err := s.replayer.PreviewWith(ctx, h.HoldingID, sell); err != nil {
		return s.fail(ctx, h, err)
	}
	pending := []*model.Transaction{&sell}

	var buy *model.Transaction
	if h.HasReplacement() {
		target, err := s.replacementHolding(ctx, h)
		if err != nil {
			return s.fail(ctx, h, err)
		}
		buy = &model.Transaction{
			ID:        uuid.New().String(),
			HoldingID: target.ID,
			Side:      model.Buy,
			TradeDate: h.SellDate,
			Quantity:  h.ReplacementQty,
			Price:     h.ReplacementPrice,
			Fees:      h.ReplacementFees,
			Account:   "GIA",
			CreatedAt: now,
		}
		pending = append(pending, buy)
	}

	if err := s.store.InsertTransactions(ctx, pending...); err != nil {
		return s.fail(ctx, h, err)
	}
	for _, tx := range pending {
		metrics.TransactionsRecorded.WithLabelValues(string(tx.Side), "harvest").Inc()
	}

	h.Status = model.HarvestExecuted
	h.SellTxID = sell.ID
	h.UpdatedAt = now

	// The transactions are recorded; replay failures are noted on the
	// harvest but do not undo the execution.
	if res, err := s.replayer.ProcessHolding(ctx, h.HoldingID); err != nil {
		h.Notes = appendNote(h.Notes, fmt.Sprintf("replay of holding %s failed: %v", h.HoldingID, err))
	} else {
		for _, d := range res.Disposals {
			if d.TransactionID == sell.ID {
				h.RealisedGainLoss = d.GainLoss
				h.DisallowedLoss = d.DisallowedLoss
			}
		}
	}
	if buy != nil {
		h.ReplacementTxID = buy.ID
		if _, err := s.replayer.ProcessHolding(ctx, buy.HoldingID); err != nil {
			h.Notes = appendNote(h.Notes, fmt.Sprintf("replay of holding %s failed: %v", buy.HoldingID, err))
		}
	}

	if err := s.store.UpdateHarvest(ctx, h); err != nil {
		return nil, fmt.Errorf("save executed harvest %s: %w", h.ID, err)
	}
	metrics.HarvestsTotal.WithLabelValues(string(h.Status)).Inc()

	slog.Info("harvest executed",
		"id", h.ID,
		"holding", h.HoldingID,
		"sell_tx", h.SellTxID,
		"replacement_tx", h.ReplacementTxID,
		"realised", h.RealisedGainLoss.String(),
		"disallowed", h.DisallowedLoss.String(),
	)
	return h, nil
}

// Cancel marks a pending harvest CANCELLED.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Harvest, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	h, err := s.store.GetHarvest(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HarvestPending {
		return nil, fmt.Errorf("%w: harvest %s is %s", ErrNotPending, h.ID, h.Status)
	}
	h.Status = model.HarvestCancelled
	h.UpdatedAt = s.now()
	if err := s.store.UpdateHarvest(ctx, h); err != nil {
		return nil, err
	}
	metrics.HarvestsTotal.WithLabelValues(string(h.Status)).Inc()
	slog.Info("harvest cancelled", "id", h.ID, "holding", h.HoldingID)
	return h, nil
}

// Get returns one harvest.
func (s *Service) Get(ctx context.Context, id string) (*model.Harvest, error) {
	return s.store.GetHarvest(ctx, id)
}

// List returns a client's harvests, newest first.
func (s *Service) List(ctx context.Context, clientID string, status model.HarvestStatus) ([]model.Harvest, error) {
	return s.store.ListHarvests(ctx, clientID, status)
}

func (s *Service) checkWindow(ctx context.Context, holdingID string, asOf time.Time) error {
	txs, err := s.store.ListTransactions(ctx, holdingID)
	if err != nil {
		return fmt.Errorf("list transactions for holding %s: %w", holdingID, err)
	}
	return s.guard.Allow(txs, asOf)
}

func (s *Service) replacementHolding(ctx context.Context, h *model.Harvest) (*model.Holding, error) {
	existing, err := s.store.GetHoldingByTicker(ctx, h.ClientID, h.ReplacementTicker)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	created := &model.Holding{
		ID:        uuid.New().String(),
		ClientID:  h.ClientID,
		Ticker:    h.ReplacementTicker,
		Name:      h.ReplacementName,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateHolding(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// fail records err on the harvest, marks it FAILED and returns err.
func (s *Service) fail(ctx context.Context, h *model.Harvest, cause error) (*model.Harvest, error) {
	h.Status = model.HarvestFailed
	h.Notes = appendNote(h.Notes, "execution failed: "+cause.Error())
	h.UpdatedAt = s.now()
	if err := s.store.UpdateHarvest(ctx, h); err != nil {
		slog.Error("save failed harvest", "id", h.ID, "err", err)
	}
	metrics.HarvestsTotal.WithLabelValues(string(h.Status)).Inc()
	slog.Warn("harvest failed", "id", h.ID, "holding", h.HoldingID, "err", cause)
	return h, fmt.Errorf("execute harvest %s: %w", h.ID, cause)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
