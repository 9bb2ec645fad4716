// Package model defines the core domain types shared across the CGT engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a transaction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is one of BUY or SELL.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Holding is one security held by one client. Each holding owns exactly one
// Section 104 pool.
type Holding struct {
	ID        string    `json:"id" db:"id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	Ticker    string    `json:"ticker" db:"ticker"`
	Name      string    `json:"name" db:"name"`
	ISIN      string    `json:"isin,omitempty" db:"isin"`
	SEDOL     string    `json:"sedol,omitempty" db:"sedol"`
	Sector    string    `json:"sector,omitempty" db:"sector"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction is an immutable acquisition (BUY) or disposal (SELL).
// Seq is the creation-order tiebreak key, assigned by the store on insert.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	HoldingID string          `json:"holding_id" db:"holding_id"`
	Side      Side            `json:"side" db:"side"`
	TradeDate time.Time       `json:"trade_date" db:"trade_date"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Fees      decimal.Decimal `json:"fees" db:"fees"`
	Account   string          `json:"account" db:"account"` // "GIA", "ISA", ...
	Seq       int64           `json:"seq" db:"seq"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Value is quantity × price, fees excluded.
func (t Transaction) Value() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// PoolState is the persisted form of a holding's Section 104 pool.
type PoolState struct {
	HoldingID      string          `json:"holding_id" db:"holding_id"`
	PooledQuantity decimal.Decimal `json:"pooled_quantity" db:"pooled_quantity"`
	PooledCost     decimal.Decimal `json:"pooled_cost" db:"pooled_cost"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// AverageCost is pooled cost over pooled quantity, or zero for an empty pool.
func (p PoolState) AverageCost() decimal.Decimal {
	if !p.PooledQuantity.IsPositive() {
		return decimal.Zero
	}
	return p.PooledCost.Div(p.PooledQuantity)
}

// Rule identifies which matching rule absorbed part of a disposal.
type Rule string

const (
	RuleSameDay    Rule = "same_day"
	RuleThirtyDay  Rule = "thirty_day"
	RuleSection104 Rule = "section104"
)

// Leg is one matched chunk of a disposal.
type Leg struct {
	Rule           Rule            `json:"rule"`
	BuyTxID        string          `json:"buy_tx_id,omitempty"` // empty for the pool leg
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Cost           decimal.Decimal `json:"cost"`
	GainLoss       decimal.Decimal `json:"gain_loss"`
	DisallowedLoss decimal.Decimal `json:"disallowed_loss"`
}

// Disposal is the derived result of matching one SELL transaction.
// It is recomputed by every replay and never stored on its own.
type Disposal struct {
	TransactionID     string              `json:"transaction_id"`
	HoldingID         string              `json:"holding_id"`
	TradeDate         time.Time           `json:"trade_date"`
	Quantity          decimal.Decimal     `json:"total_qty"`
	Price             decimal.Decimal     `json:"price"`
	Proceeds          decimal.Decimal     `json:"proceeds"` // quantity × price
	SameDayQty        decimal.Decimal     `json:"same_day_qty"`
	ThirtyDayQty      decimal.Decimal     `json:"thirty_day_qty"`
	MatchedQty        decimal.Decimal     `json:"matched_qty"` // same-day + 30-day
	Section104Qty     decimal.Decimal     `json:"section104_qty"`
	Section104AvgCost decimal.NullDecimal `json:"section104_avg_cost"`
	Cost              decimal.Decimal     `json:"cost"`
	GainLoss          decimal.Decimal     `json:"total_gain_loss"`
	DisallowedLoss    decimal.Decimal     `json:"disallowed_loss"`
	Legs              []Leg               `json:"legs"`
}

// AllowableGainLoss is the gain or loss once disallowed losses are added
// back. Positive values are gains for period totals, negative are losses.
func (d Disposal) AllowableGainLoss() decimal.Decimal {
	return d.GainLoss.Add(d.DisallowedLoss)
}

// DisposalMatch is the audit edge between a disposal and an acquisition
// matched under the 30-day rule.
type DisposalMatch struct {
	ID             string          `json:"id" db:"id"`
	HoldingID      string          `json:"holding_id" db:"holding_id"`
	SellTxID       string          `json:"sell_tx_id" db:"sell_tx_id"`
	BuyTxID        string          `json:"matched_buy_tx_id" db:"matched_buy_tx_id"`
	SellDate       time.Time       `json:"sell_date" db:"sell_date"`
	QtyMatched     decimal.Decimal `json:"qty_matched" db:"qty_matched"`
	GainLoss       decimal.Decimal `json:"gain_loss" db:"gain_loss"`
	DisallowedLoss decimal.Decimal `json:"disallowed_loss" db:"disallowed_loss"`
	Seq            int             `json:"seq" db:"seq"` // order within the replay
}

// Day is the trade day of t: the calendar date t shows in its own location,
// returned as midnight UTC. A trade stamped 23:30 in New York is on that New
// York date, whatever the UTC date is. Every comparison of trade dates goes
// through Day, so timestamps in different zones group consistently.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format for trade dates.
const DateLayout = "2006-01-02"
