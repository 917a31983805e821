package domain

import "errors"

var (
	// Writer errors
	ErrImbalancedTransaction = errors.New("transaction debits do not equal credits")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrInvalidAmount         = errors.New("line amount must be positive")

	// Reversal errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyReversed     = errors.New("transaction already reversed")

	// Rebuild errors
	ErrRebuildInProgress = errors.New("ledger rebuild in progress")
	ErrReplayIntegrity   = errors.New("replayed ledger failed integrity check")

	// Query errors
	ErrAccountNotFound = errors.New("account not found")
)
