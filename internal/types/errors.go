package types

import "errors"

// Sentinel errors for the execution engine.
var (
	// Validation errors
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrDuplicateIntent = errors.New("duplicate intent for symbol and side today")

	// Gateway errors
	ErrRetriesExhausted = errors.New("transient failures exhausted retry budget")
	ErrBrokerRejected   = errors.New("order rejected by broker")
	ErrUnprotectedEntry = errors.New("bracket leg failed after entry acceptance")

	// Ledger errors
	ErrLedgerBusy         = errors.New("ledger busy: bounded wait exceeded")
	ErrRecordNotFound     = errors.New("record not found")
	ErrLedgerInconsistent = errors.New("ledger write failed after broker acceptance")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
