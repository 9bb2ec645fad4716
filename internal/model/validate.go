package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransaction is matched by every *InvalidTransactionError.
var ErrInvalidTransaction = errors.New("model: invalid transaction")

// InvalidTransactionError rejects a transaction before it reaches the
// matching engine.
type InvalidTransactionError struct {
	TransactionID string
	Field         string
	Reason        string
}

func (e *InvalidTransactionError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid transaction %s: %s %s", e.TransactionID, e.Field, e.Reason)
}

func (e *InvalidTransactionError) Is(target error) bool {
	return target == ErrInvalidTransaction
}

// Validate checks the invariants every recorded transaction must satisfy:
// a known side, a trade date, positive quantity and price, non-negative fees.
func (t Transaction) Validate() error {
	invalid := func(field, reason string) error {
		return &InvalidTransactionError{TransactionID: t.ID, Field: field, Reason: reason}
	}
	switch {
	case !t.Side.Valid():
		return invalid("side", fmt.Sprintf("must be BUY or SELL, got %q", t.Side))
	case t.TradeDate.IsZero():
		return invalid("trade_date", "is required")
	case !t.Quantity.IsPositive():
		return invalid("quantity", "must be positive")
	case !t.Price.IsPositive():
		return invalid("price", "must be positive")
	case t.Fees.IsNegative():
		return invalid("fees", "must not be negative")
	}
	return nil
}
