package repo

import "errors"

var (
	// ErrInsufficientBalance is returned when a conditional debit finds balance < amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNotFound is returned for unknown wallets or withdrawal requests.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a row is not in the expected state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStoreUnavailable wraps infrastructure failures that a caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
