package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taxlot/cgt-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.CreateHolding(ctx, h); err != nil {
		return err
	}
	s.cache(ctx, holdingKey(h.ID), h)
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) InsertTransactions(ctx context.Context, txs ...*model.Transaction) error {
	return s.primary.InsertTransactions(ctx, txs...)
}

func (s *CachedStore) SaveReplay(ctx context.Context, p model.PoolState, matches []model.DisposalMatch) error {
	if err := s.primary.SaveReplay(ctx, p, matches); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, poolKey(p.HoldingID), matchesKey(p.HoldingID))
	return nil
}

func (s *CachedStore) ClearCompliance(ctx context.Context, holdingID string) error {
	if err := s.primary.ClearCompliance(ctx, holdingID); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(holdingID), matchesKey(holdingID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetHolding(ctx context.Context, id string) (*model.Holding, error) {
	var h model.Holding
	if s.lookup(ctx, holdingKey(id), &h) {
		return &h, nil
	}

	// Cache miss: read from primary.
	found, err := s.primary.GetHolding(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, holdingKey(id), found)
	return found, nil
}

func (s *CachedStore) GetPool(ctx context.Context, holdingID string) (*model.PoolState, error) {
	var p model.PoolState
	if s.lookup(ctx, poolKey(holdingID), &p) {
		return &p, nil
	}

	found, err := s.primary.GetPool(ctx, holdingID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(holdingID), found)
	return found, nil
}

func (s *CachedStore) ListMatches(ctx context.Context, holdingID string) ([]model.DisposalMatch, error) {
	var matches []model.DisposalMatch
	if s.lookup(ctx, matchesKey(holdingID), &matches) {
		return matches, nil
	}

	found, err := s.primary.ListMatches(ctx, holdingID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, matchesKey(holdingID), found)
	return found, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetHoldingByTicker(ctx context.Context, clientID, ticker string) (*model.Holding, error) {
	return s.primary.GetHoldingByTicker(ctx, clientID, ticker)
}

func (s *CachedStore) ListHoldings(ctx context.Context, clientID string) ([]model.Holding, error) {
	return s.primary.ListHoldings(ctx, clientID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, holdingID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, holdingID)
}

func (s *CachedStore) CreateHarvest(ctx context.Context, h *model.Harvest) error {
	return s.primary.CreateHarvest(ctx, h)
}

func (s *CachedStore) GetHarvest(ctx context.Context, id string) (*model.Harvest, error) {
	return s.primary.GetHarvest(ctx, id)
}

func (s *CachedStore) ListHarvests(ctx context.Context, clientID string, status model.HarvestStatus) ([]model.Harvest, error) {
	return s.primary.ListHarvests(ctx, clientID, status)
}

func (s *CachedStore) UpdateHarvest(ctx context.Context, h *model.Harvest) error {
	return s.primary.UpdateHarvest(ctx, h)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func holdingKey(id string) string { return fmt.Sprintf("holding:%s", id) }
func poolKey(id string) string    { return fmt.Sprintf("pool:%s", id) }
func matchesKey(id string) string { return fmt.Sprintf("matches:%s", id) }
