// Package store defines the persistence interface for the CGT engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/taxlot/cgt-engine/internal/model"
)

// ErrNotFound is returned (wrapped) when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Holdings ---

	// CreateHolding persists a new holding.
	CreateHolding(ctx context.Context, h *model.Holding) error

	// GetHolding retrieves a holding by its ID.
	GetHolding(ctx context.Context, id string) (*model.Holding, error)

	// GetHoldingByTicker retrieves a client's holding of one security.
	GetHoldingByTicker(ctx context.Context, clientID, ticker string) (*model.Holding, error)

	// ListHoldings returns the holdings of a client, or all holdings when
	// clientID is empty.
	ListHoldings(ctx context.Context, clientID string) ([]model.Holding, error)

	// --- Immutable transactions ---

	// InsertTransaction appends a transaction and assigns its Seq.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// InsertTransactions appends several transactions, possibly of
	// different holdings, all or nothing.
	InsertTransactions(ctx context.Context, txs ...*model.Transaction) error

	// ListTransactions returns every transaction of a holding. Callers must
	// not rely on the order.
	ListTransactions(ctx context.Context, holdingID string) ([]model.Transaction, error)

	// --- Compliance state ---

	// GetPool returns the persisted Section 104 pool of a holding.
	GetPool(ctx context.Context, holdingID string) (*model.PoolState, error)

	// ListMatches returns the persisted 30-day matches of a holding in
	// disposal date then match order.
	ListMatches(ctx context.Context, holdingID string) ([]model.DisposalMatch, error)

	// SaveReplay atomically replaces a holding's pool and match set.
	// Either everything is written or nothing is.
	SaveReplay(ctx context.Context, pool model.PoolState, matches []model.DisposalMatch) error

	// ClearCompliance deletes a holding's pool and matches.
	ClearCompliance(ctx context.Context, holdingID string) error

	// --- Loss harvests ---

	// CreateHarvest persists a new harvest.
	CreateHarvest(ctx context.Context, h *model.Harvest) error

	// GetHarvest retrieves a harvest by its ID.
	GetHarvest(ctx context.Context, id string) (*model.Harvest, error)

	// ListHarvests returns a client's harvests (all when clientID is empty),
	// newest first, optionally filtered by status.
	ListHarvests(ctx context.Context, clientID string, status model.HarvestStatus) ([]model.Harvest, error)

	// UpdateHarvest overwrites a stored harvest.
	UpdateHarvest(ctx context.Context, h *model.Harvest) error
}
