package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/taxlot/cgt-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	holdings map[string]*model.Holding
	txs      []model.Transaction
	seq      int64
	pools    map[string]model.PoolState
	matches  map[string][]model.DisposalMatch // by holding ID
	harvests map[string]*model.Harvest
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[string]*model.Holding),
		pools:    make(map[string]model.PoolState),
		matches:  make(map[string][]model.DisposalMatch),
		harvests: make(map[string]*model.Harvest),
	}
}

func (s *MemoryStore) CreateHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holdings[h.ID]; ok {
		return fmt.Errorf("holding %s already exists", h.ID)
	}
	for _, existing := range s.holdings {
		if existing.ClientID == h.ClientID && strings.EqualFold(existing.Ticker, h.Ticker) {
			return fmt.Errorf("holding of %s for client %s already exists", h.Ticker, h.ClientID)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *h
	s.holdings[h.ID] = &copy
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, id string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[id]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) GetHoldingByTicker(_ context.Context, clientID, ticker string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.holdings {
		if h.ClientID == clientID && strings.EqualFold(h.Ticker, ticker) {
			copy := *h
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("holding of %s for client %s: %w", ticker, clientID, ErrNotFound)
}

func (s *MemoryStore) ListHoldings(_ context.Context, clientID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := make([]model.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		if clientID == "" || h.ClientID == clientID {
			holdings = append(holdings, *h)
		}
	}
	slices.SortFunc(holdings, func(a, b model.Holding) int { return strings.Compare(a.Ticker, b.Ticker) })
	return holdings, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holdings[tx.HoldingID]; !ok {
		return fmt.Errorf("holding %s: %w", tx.HoldingID, ErrNotFound)
	}
	s.seq++
	tx.Seq = s.seq
	s.txs = append(s.txs, *tx)
	return nil
}

// InsertTransactions checks every holding before appending anything.
func (s *MemoryStore) InsertTransactions(_ context.Context, txs ...*model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if _, ok := s.holdings[tx.HoldingID]; !ok {
			return fmt.Errorf("holding %s: %w", tx.HoldingID, ErrNotFound)
		}
	}
	for _, tx := range txs {
		s.seq++
		tx.Seq = s.seq
		s.txs = append(s.txs, *tx)
	}
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, holdingID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.txs {
		if tx.HoldingID == holdingID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPool(_ context.Context, holdingID string) (*model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[holdingID]
	if !ok {
		return nil, fmt.Errorf("pool for holding %s: %w", holdingID, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListMatches(_ context.Context, holdingID string) ([]model.DisposalMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.matches[holdingID]), nil
}

// SaveReplay swaps the pool and match set under a single write lock, which
// is the in-memory equivalent of one database transaction.
func (s *MemoryStore) SaveReplay(_ context.Context, p model.PoolState, matches []model.DisposalMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holdings[p.HoldingID]; !ok {
		return fmt.Errorf("holding %s: %w", p.HoldingID, ErrNotFound)
	}
	for _, m := range matches {
		if m.HoldingID != p.HoldingID {
			return fmt.Errorf("match %s belongs to holding %s, not %s", m.ID, m.HoldingID, p.HoldingID)
		}
	}

	s.pools[p.HoldingID] = p
	s.matches[p.HoldingID] = slices.Clone(matches)
	return nil
}

func (s *MemoryStore) ClearCompliance(_ context.Context, holdingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pools, holdingID)
	delete(s.matches, holdingID)
	return nil
}

func (s *MemoryStore) CreateHarvest(_ context.Context, h *model.Harvest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.harvests[h.ID]; ok {
		return fmt.Errorf("harvest %s already exists", h.ID)
	}
	if _, ok := s.holdings[h.HoldingID]; !ok {
		return fmt.Errorf("holding %s: %w", h.HoldingID, ErrNotFound)
	}
	copy := *h
	s.harvests[h.ID] = &copy
	return nil
}

func (s *MemoryStore) GetHarvest(_ context.Context, id string) (*model.Harvest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.harvests[id]
	if !ok {
		return nil, fmt.Errorf("harvest %s: %w", id, ErrNotFound)
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHarvests(_ context.Context, clientID string, status model.HarvestStatus) ([]model.Harvest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Harvest
	for _, h := range s.harvests {
		if clientID != "" && h.ClientID != clientID {
			continue
		}
		if status != "" && h.Status != status {
			continue
		}
		out = append(out, *h)
	}
	slices.SortFunc(out, func(a, b model.Harvest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) UpdateHarvest(_ context.Context, h *model.Harvest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.harvests[h.ID]; !ok {
		return fmt.Errorf("harvest %s: %w", h.ID, ErrNotFound)
	}
	copy := *h
	s.harvests[h.ID] = &copy
	return nil
}
