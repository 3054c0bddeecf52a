package ledger

import "errors"

var (
	// ErrInsufficientFunds rejects a debit that would drive the available
	// balance or capital below zero. Nothing is written.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateEntry rejects a mutation whose idempotency ref was already
	// committed for the same entry kind.
	ErrDuplicateEntry = errors.New("ledger entry already applied")

	ErrInvalidKind = errors.New("invalid ledger entry kind")

	ErrInvalidAmount = errors.New("amount must be positive")
)
