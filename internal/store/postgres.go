package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Holdings ---

const holdingColumns = `id, client_id, ticker, name, isin, sedol, sector, created_at`

func (s *PostgresStore) CreateHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (`+holdingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.ClientID, h.Ticker, h.Name, h.ISIN, h.SEDOL, h.Sector, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create holding %s: %w", h.Ticker, err)
	}
	return nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, id string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id)
	h, err := scanHolding(row)
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", id, notFound(err))
	}
	return h, nil
}

func (s *PostgresStore) GetHoldingByTicker(ctx context.Context, clientID, ticker string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE client_id = $1 AND upper(ticker) = upper($2)`, clientID, ticker)
	h, err := scanHolding(row)
	if err != nil {
		return nil, fmt.Errorf("get holding of %s for client %s: %w", ticker, clientID, notFound(err))
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, clientID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE $1 = '' OR client_id = $1
		 ORDER BY ticker`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	if err := row.Scan(&h.ID, &h.ClientID, &h.Ticker, &h.Name,
		&h.ISIN, &h.SEDOL, &h.Sector, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Immutable transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return insertTransaction(ctx, s.pool, tx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTransaction(ctx context.Context, q querier, tx *model.Transaction) error {
	err := q.QueryRow(ctx,
		`INSERT INTO transactions (id, holding_id, side, trade_date, quantity, price, fees, account, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 RETURNING seq`,
		tx.ID, tx.HoldingID, string(tx.Side), tx.TradeDate,
		tx.Quantity.String(), tx.Price.String(), tx.Fees.String(),
		tx.Account, tx.CreatedAt,
	).Scan(&tx.Seq)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// InsertTransactions inserts every transaction inside one database
// transaction.
func (s *PostgresStore) InsertTransactions(ctx context.Context, txs ...*model.Transaction) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert transactions: %w", err)
	}
	defer dbtx.Rollback(ctx) // no-op after commit

	for _, tx := range txs {
		if err := insertTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
	}
	return dbtx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, holdingID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, holding_id, side, trade_date,
		        quantity::TEXT, price::TEXT, fees::TEXT,
		        account, seq, created_at
		 FROM transactions WHERE holding_id = $1`, holdingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var side, qtyS, priceS, feesS string
		if err := rows.Scan(&tx.ID, &tx.HoldingID, &side, &tx.TradeDate,
			&qtyS, &priceS, &feesS,
			&tx.Account, &tx.Seq, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Side = model.Side(side)
		tx.TradeDate = model.Day(tx.TradeDate)
		if err := parseNumerics(
			numeric{&tx.Quantity, qtyS},
			numeric{&tx.Price, priceS},
			numeric{&tx.Fees, feesS},
		); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// --- Compliance state ---

func (s *PostgresStore) GetPool(ctx context.Context, holdingID string) (*model.PoolState, error) {
	var p model.PoolState
	var qtyS, costS string

	err := s.pool.QueryRow(ctx,
		`SELECT holding_id, pooled_qty::TEXT, pooled_cost::TEXT, updated_at
		 FROM section104_pools WHERE holding_id = $1`, holdingID).
		Scan(&p.HoldingID, &qtyS, &costS, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get pool for holding %s: %w", holdingID, notFound(err))
	}
	if err := parseNumerics(
		numeric{&p.PooledQuantity, qtyS},
		numeric{&p.PooledCost, costS},
	); err != nil {
		return nil, fmt.Errorf("pool for holding %s: %w", holdingID, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, holdingID string) ([]model.DisposalMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, holding_id, sell_tx_id, matched_buy_tx_id, sell_date,
		        qty_matched::TEXT, gain_loss::TEXT, disallowed_loss::TEXT, seq
		 FROM disposal_matches WHERE holding_id = $1
		 ORDER BY sell_date, seq`, holdingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.DisposalMatch
	for rows.Next() {
		var m model.DisposalMatch
		var qtyS, gainS, disallowedS string
		if err := rows.Scan(&m.ID, &m.HoldingID, &m.SellTxID, &m.BuyTxID, &m.SellDate,
			&qtyS, &gainS, &disallowedS, &m.Seq); err != nil {
			return nil, err
		}
		if err := parseNumerics(
			numeric{&m.QtyMatched, qtyS},
			numeric{&m.GainLoss, gainS},
			numeric{&m.DisallowedLoss, disallowedS},
		); err != nil {
			return nil, fmt.Errorf("match %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// SaveReplay replaces the pool and match set inside one database
// transaction. Any failure rolls back the whole replay.
func (s *PostgresStore) SaveReplay(ctx context.Context, p model.PoolState, matches []model.DisposalMatch) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin replay save: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if _, err := tx.Exec(ctx,
		`DELETE FROM disposal_matches WHERE holding_id = $1`, p.HoldingID); err != nil {
		return fmt.Errorf("clear matches for holding %s: %w", p.HoldingID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO section104_pools (holding_id, pooled_qty, pooled_cost, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (holding_id) DO UPDATE
		 SET pooled_qty = EXCLUDED.pooled_qty,
		     pooled_cost = EXCLUDED.pooled_cost,
		     updated_at = EXCLUDED.updated_at`,
		p.HoldingID, p.PooledQuantity.String(), p.PooledCost.String(), p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save pool for holding %s: %w", p.HoldingID, err)
	}

	if len(matches) > 0 {
		batch := &pgx.Batch{}
		for _, m := range matches {
			batch.Queue(
				`INSERT INTO disposal_matches
				   (id, holding_id, sell_tx_id, matched_buy_tx_id, sell_date,
				    qty_matched, gain_loss, disallowed_loss, seq)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
				m.ID, m.HoldingID, m.SellTxID, m.BuyTxID, m.SellDate,
				m.QtyMatched.String(), m.GainLoss.String(), m.DisallowedLoss.String(), m.Seq,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for _, m := range matches {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert match %s: %w", m.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("insert matches for holding %s: %w", p.HoldingID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replay save for holding %s: %w", p.HoldingID, err)
	}
	return nil
}

func (s *PostgresStore) ClearCompliance(ctx context.Context, holdingID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM disposal_matches WHERE holding_id = $1`, holdingID); err != nil {
		return fmt.Errorf("clear matches for holding %s: %w", holdingID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM section104_pools WHERE holding_id = $1`, holdingID); err != nil {
		return fmt.Errorf("clear pool for holding %s: %w", holdingID, err)
	}
	return tx.Commit(ctx)
}

// --- Loss harvests ---

const harvestColumns = `id, client_id, holding_id, status,
	quantity::TEXT, average_cost::TEXT, unrealised_loss::TEXT,
	sell_price::TEXT, sell_fees::TEXT, sell_date,
	replacement_ticker, replacement_name,
	replacement_qty::TEXT, replacement_price::TEXT, replacement_fees::TEXT,
	sell_tx_id, replacement_tx_id,
	realised_gain_loss::TEXT, disallowed_loss::TEXT,
	notes, created_at, updated_at`

func (s *PostgresStore) CreateHarvest(ctx context.Context, h *model.Harvest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO harvests (id, client_id, holding_id, status,
		   quantity, average_cost, unrealised_loss,
		   sell_price, sell_fees, sell_date,
		   replacement_ticker, replacement_name,
		   replacement_qty, replacement_price, replacement_fees,
		   sell_tx_id, replacement_tx_id,
		   realised_gain_loss, disallowed_loss,
		   notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4,
		   $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		   $8::NUMERIC, $9::NUMERIC, $10,
		   $11, $12,
		   $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
		   $16, $17,
		   $18::NUMERIC, $19::NUMERIC,
		   $20, $21, $22)`,
		h.ID, h.ClientID, h.HoldingID, string(h.Status),
		h.Quantity.String(), h.AverageCost.String(), h.UnrealisedLoss.String(),
		h.SellPrice.String(), h.SellFees.String(), h.SellDate,
		h.ReplacementTicker, h.ReplacementName,
		h.ReplacementQty.String(), h.ReplacementPrice.String(), h.ReplacementFees.String(),
		h.SellTxID, h.ReplacementTxID,
		h.RealisedGainLoss.String(), h.DisallowedLoss.String(),
		h.Notes, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create harvest %s: %w", h.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetHarvest(ctx context.Context, id string) (*model.Harvest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+harvestColumns+` FROM harvests WHERE id = $1`, id)
	h, err := scanHarvest(row)
	if err != nil {
		return nil, fmt.Errorf("get harvest %s: %w", id, notFound(err))
	}
	return h, nil
}

func (s *PostgresStore) ListHarvests(ctx context.Context, clientID string, status model.HarvestStatus) ([]model.Harvest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+harvestColumns+` FROM harvests
		 WHERE ($1 = '' OR client_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id`, clientID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var harvests []model.Harvest
	for rows.Next() {
		h, err := scanHarvest(rows)
		if err != nil {
			return nil, err
		}
		harvests = append(harvests, *h)
	}
	return harvests, rows.Err()
}

// UpdateHarvest writes the mutable part of a harvest: status, execution
// results and notes.
func (s *PostgresStore) UpdateHarvest(ctx context.Context, h *model.Harvest) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE harvests
		 SET status = $2, sell_tx_id = $3, replacement_tx_id = $4,
		     realised_gain_loss = $5::NUMERIC, disallowed_loss = $6::NUMERIC,
		     notes = $7, updated_at = $8
		 WHERE id = $1`,
		h.ID, string(h.Status), h.SellTxID, h.ReplacementTxID,
		h.RealisedGainLoss.String(), h.DisallowedLoss.String(),
		h.Notes, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update harvest %s: %w", h.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("harvest %s: %w", h.ID, ErrNotFound)
	}
	return nil
}

func scanHarvest(row pgx.Row) (*model.Harvest, error) {
	var h model.Harvest
	var status string
	var qtyS, avgS, lossS, priceS, feesS, rQtyS, rPriceS, rFeesS, realisedS, disallowedS string
	if err := row.Scan(&h.ID, &h.ClientID, &h.HoldingID, &status,
		&qtyS, &avgS, &lossS,
		&priceS, &feesS, &h.SellDate,
		&h.ReplacementTicker, &h.ReplacementName,
		&rQtyS, &rPriceS, &rFeesS,
		&h.SellTxID, &h.ReplacementTxID,
		&realisedS, &disallowedS,
		&h.Notes, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Status = model.HarvestStatus(status)
	h.SellDate = model.Day(h.SellDate)
	if err := parseNumerics(
		numeric{&h.Quantity, qtyS},
		numeric{&h.AverageCost, avgS},
		numeric{&h.UnrealisedLoss, lossS},
		numeric{&h.SellPrice, priceS},
		numeric{&h.SellFees, feesS},
		numeric{&h.ReplacementQty, rQtyS},
		numeric{&h.ReplacementPrice, rPriceS},
		numeric{&h.ReplacementFees, rFeesS},
		numeric{&h.RealisedGainLoss, realisedS},
		numeric{&h.DisallowedLoss, disallowedS},
	); err != nil {
		return nil, fmt.Errorf("harvest %s: %w", h.ID, err)
	}
	return &h, nil
}

// --- helpers ---

// numeric pairs a NUMERIC column read as text with its destination.
type numeric struct {
	dst *decimal.Decimal
	src string
}

func parseNumerics(values ...numeric) error {
	for _, v := range values {
		d, err := decimal.NewFromString(v.src)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", v.src, err)
		}
		*v.dst = d
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
