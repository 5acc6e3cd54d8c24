package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount means non-positive amount passed.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrAmountOutOfRange means the amount is outside the configured wallet limits.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrInvalidMethod means an unknown withdrawal method.
	ErrInvalidMethod = errors.New("unknown withdrawal method")
)

var domainErrors = []error{
	ErrInvalidAmount, ErrAmountOutOfRange, ErrInvalidMethod, auth.ErrForbidden,
	repo.ErrInsufficientBalance, repo.ErrNotFound, repo.ErrInvalidTransition, repo.ErrStoreUnavailable,
	context.Canceled, context.DeadlineExceeded,
}

// storeErr keeps domain outcomes as they are and marks everything else as a transient store failure.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	return fmt.Errorf("%w: %v", repo.ErrStoreUnavailable, err)
}
