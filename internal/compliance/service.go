package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/matching"
	"github.com/taxlot/cgt-engine/internal/metrics"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/pool"
	"github.com/taxlot/cgt-engine/internal/store"
)

// Event describes a persisted replay.
type Event struct {
	HoldingID      string          `json:"holding_id"`
	ClientID       string          `json:"client_id"`
	Ticker         string          `json:"ticker"`
	Disposals      int             `json:"disposals"`
	Matches        int             `json:"matches"`
	GainLoss       decimal.Decimal `json:"gain_loss"`
	DisallowedLoss decimal.Decimal `json:"disallowed_loss"`
	PooledQuantity decimal.Decimal `json:"pooled_quantity"`
	PooledCost     decimal.Decimal `json:"pooled_cost"`
	ProcessedAt    time.Time       `json:"processed_at"`
}

// Notifier is told about every persisted replay. Implementations must not
// block.
type Notifier interface {
	Notify(Event)
}

// Service loads holdings from a store, replays them and persists the
// result. Replays of one holding are serialised; different holdings run
// independently.
type Service struct {
	store    store.Store
	engine   *matching.Engine
	notifier Notifier // optional
	locks    keyedMutex
	now      func() time.Time
}

// NewService creates a compliance service. Pass nil for notifier if replay
// notifications are not needed.
func NewService(st store.Store, engine *matching.Engine, notifier Notifier) *Service {
	return &Service{
		store:    st,
		engine:   engine,
		notifier: notifier,
		locks:    keyedMutex{locks: make(map[string]*refLock)},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessHolding replays the full history of a holding and atomically
// replaces its persisted pool and 30-day matches. On error nothing is
// written and the previous state stays in place.
func (s *Service) ProcessHolding(ctx context.Context, holdingID string) (Result, error) {
	unlock := s.locks.Lock(holdingID)
	defer unlock()

	start := time.Now()
	holding, res, err := s.replay(ctx, holdingID)
	if err != nil {
		metrics.ReplaysTotal.WithLabelValues(outcome(err), "process").Inc()
		slog.Warn("replay failed", "holding", holdingID, "err", err)
		return Result{}, err
	}

	res.Pool.UpdatedAt = s.now()
	if err := s.store.SaveReplay(ctx, res.Pool, res.Matches); err != nil {
		metrics.ReplaysTotal.WithLabelValues("error", "process").Inc()
		return Result{}, fmt.Errorf("save replay for holding %s: %w", holdingID, err)
	}

	metrics.ReplaysTotal.WithLabelValues("ok", "process").Inc()
	metrics.ReplayLatency.WithLabelValues("process").Observe(time.Since(start).Seconds())
	recordLegs(res)

	summary := res.Summarize()
	slog.Info("holding processed",
		"holding", holdingID,
		"ticker", holding.Ticker,
		"disposals", summary.Disposals,
		"matches", summary.Matches,
		"gain_loss", summary.GainLoss.String(),
		"disallowed_loss", summary.DisallowedLoss.String(),
		"pooled_qty", res.Pool.PooledQuantity.String(),
	)

	if s.notifier != nil {
		s.notifier.Notify(Event{
			HoldingID:      holdingID,
			ClientID:       holding.ClientID,
			Ticker:         holding.Ticker,
			Disposals:      summary.Disposals,
			Matches:        summary.Matches,
			GainLoss:       summary.GainLoss,
			DisallowedLoss: summary.DisallowedLoss,
			PooledQuantity: res.Pool.PooledQuantity,
			PooledCost:     res.Pool.PooledCost,
			ProcessedAt:    res.Pool.UpdatedAt,
		})
	}
	return res, nil
}

// PreviewHolding replays a holding without persisting anything.
func (s *Service) PreviewHolding(ctx context.Context, holdingID string) (Result, error) {
	return s.PreviewWith(ctx, holdingID)
}

// PreviewWith replays a holding as if the proposed transactions had already
// been recorded. Nothing is persisted.
func (s *Service) PreviewWith(ctx context.Context, holdingID string, proposed ...model.Transaction) (Result, error) {
	start := time.Now()
	_, res, err := s.replay(ctx, holdingID, proposed...)
	if err != nil {
		metrics.ReplaysTotal.WithLabelValues(outcome(err), "preview").Inc()
		return Result{}, err
	}
	metrics.ReplaysTotal.WithLabelValues("ok", "preview").Inc()
	metrics.ReplayLatency.WithLabelValues("preview").Observe(time.Since(start).Seconds())
	return res, nil
}

// ClearHolding deletes the persisted pool and matches of a holding. Its
// transactions are kept, so a later ProcessHolding rebuilds the same state.
func (s *Service) ClearHolding(ctx context.Context, holdingID string) error {
	unlock := s.locks.Lock(holdingID)
	defer unlock()

	if _, err := s.store.GetHolding(ctx, holdingID); err != nil {
		return err
	}
	if err := s.store.ClearCompliance(ctx, holdingID); err != nil {
		return fmt.Errorf("clear holding %s: %w", holdingID, err)
	}
	slog.Info("holding compliance cleared", "holding", holdingID)
	return nil
}

func (s *Service) replay(ctx context.Context, holdingID string, proposed ...model.Transaction) (*model.Holding, Result, error) {
	holding, err := s.store.GetHolding(ctx, holdingID)
	if err != nil {
		return nil, Result{}, err
	}
	txs, err := s.store.ListTransactions(ctx, holdingID)
	if err != nil {
		return nil, Result{}, fmt.Errorf("list transactions for holding %s: %w", holdingID, err)
	}
	// Proposed transactions are created after everything already recorded.
	var last int64
	for _, tx := range txs {
		last = max(last, tx.Seq)
	}
	for i, tx := range proposed {
		tx.Seq = last + int64(i) + 1
		txs = append(txs, tx)
	}
	res, err := Replay(holdingID, txs, s.engine)
	if err != nil {
		return nil, Result{}, err
	}
	return holding, res, nil
}

func recordLegs(res Result) {
	for _, d := range res.Disposals {
		for _, leg := range d.Legs {
			metrics.DisposalLegs.WithLabelValues(string(leg.Rule)).Inc()
		}
	}
	if f, _ := res.Summarize().DisallowedLoss.Float64(); f > 0 {
		metrics.DisallowedLoss.Add(f)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidTransaction):
		return "invalid"
	case errors.Is(err, pool.ErrInsufficientPool):
		return "insufficient_pool"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
