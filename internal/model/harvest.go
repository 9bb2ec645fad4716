package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// HarvestStatus is the lifecycle state of a loss harvest.
type HarvestStatus string

const (
	HarvestPending   HarvestStatus = "PENDING"
	HarvestExecuted  HarvestStatus = "EXECUTED"
	HarvestFailed    HarvestStatus = "FAILED"
	HarvestCancelled HarvestStatus = "CANCELLED"
)

// Harvest is a recorded decision to realise the unrealised loss of a
// holding by selling it, optionally buying a different security with the
// proceeds. Executing it records the transactions; it never trades.
type Harvest struct {
	ID        string        `json:"id" db:"id"`
	ClientID  string        `json:"client_id" db:"client_id"`
	HoldingID string        `json:"holding_id" db:"holding_id"`
	Status    HarvestStatus `json:"status" db:"status"`

	// Position when the harvest was created.
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost    decimal.Decimal `json:"average_cost" db:"average_cost"`
	UnrealisedLoss decimal.Decimal `json:"unrealised_loss" db:"unrealised_loss"`

	SellPrice decimal.Decimal `json:"sell_price" db:"sell_price"`
	SellFees  decimal.Decimal `json:"sell_fees" db:"sell_fees"`
	SellDate  time.Time       `json:"sell_date" db:"sell_date"`

	// Replacement purchase; empty ticker means none.
	ReplacementTicker string          `json:"replacement_ticker,omitempty" db:"replacement_ticker"`
	ReplacementName   string          `json:"replacement_name,omitempty" db:"replacement_name"`
	ReplacementQty    decimal.Decimal `json:"replacement_qty" db:"replacement_qty"`
	ReplacementPrice  decimal.Decimal `json:"replacement_price" db:"replacement_price"`
	ReplacementFees   decimal.Decimal `json:"replacement_fees" db:"replacement_fees"`

	// Set on execution.
	SellTxID         string          `json:"sell_tx_id,omitempty" db:"sell_tx_id"`
	ReplacementTxID  string          `json:"replacement_tx_id,omitempty" db:"replacement_tx_id"`
	RealisedGainLoss decimal.Decimal `json:"realised_gain_loss" db:"realised_gain_loss"`
	DisallowedLoss   decimal.Decimal `json:"disallowed_loss" db:"disallowed_loss"`

	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasReplacement reports whether a replacement purchase is attached.
func (h Harvest) HasReplacement() bool {
	return h.ReplacementTicker != ""
}

// NetProceeds is sale value less sale fees.
func (h Harvest) NetProceeds() decimal.Decimal {
	return h.Quantity.Mul(h.SellPrice).Sub(h.SellFees)
}
