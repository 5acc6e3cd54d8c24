package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/retry"
	"github.com/richardliu001/wallet-ledger/internal/service"
)

// Result is what a mutating call reports back to the caller.
type Result struct {
	Success     bool                     `json:"success"`
	Reason      string                   `json:"reason,omitempty"`
	Transaction *model.Transaction       `json:"transaction,omitempty"`
	Withdrawal  *model.WithdrawalRequest `json:"withdrawal,omitempty"`
	Err         error                    `json:"-"`
}

// Deposit credits the active wallet.
func (s *Session) Deposit(ctx context.Context, amount int64, method, description string) Result {
	return s.do(ctx, func(ctx context.Context, userID string) (Result, error) {
		t, err := s.ledger.Deposit(ctx, s.caller, userID, amount, method, description, "")
		return Result{Transaction: t}, err
	})
}

// Payment debits the active wallet for an order.
func (s *Session) Payment(ctx context.Context, amount int64, orderID, description string) Result {
	return s.do(ctx, func(ctx context.Context, userID string) (Result, error) {
		t, err := s.ledger.Payment(ctx, s.caller, userID, amount, orderID, description)
		return Result{Transaction: t}, err
	})
}

// Earning credits a delivery payout. Only backend callers are allowed.
func (s *Session) Earning(ctx context.Context, amount int64, orderID string, commission int64, description string) Result {
	return s.do(ctx, func(ctx context.Context, userID string) (Result, error) {
		t, err := s.ledger.Earning(ctx, s.caller, userID, amount, orderID, commission, description)
		return Result{Transaction: t}, err
	})
}

// RequestWithdrawal reserves amount and opens a pending request.
func (s *Session) RequestWithdrawal(ctx context.Context, amount int64, method model.WithdrawalMethod, accountDetails string) Result {
	return s.do(ctx, func(ctx context.Context, userID string) (Result, error) {
		w, err := s.ledger.RequestWithdrawal(ctx, s.caller, userID, amount, method, accountDetails)
		return Result{Withdrawal: w}, err
	})
}

// CancelWithdrawal withdraws one of the active user's pending or approved requests.
func (s *Session) CancelWithdrawal(ctx context.Context, id, reason string) Result {
	return s.do(ctx, func(ctx context.Context, _ string) (Result, error) {
		w, err := s.ledger.Cancel(ctx, s.caller, id, reason)
		return Result{Withdrawal: w}, err
	})
}

// do runs fn against the active user with retries, then refreshes from the ledger.
// The cached state only changes through that refresh.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context, userID string) (Result, error)) Result {
	userID, ok := s.Active()
	if !ok {
		return failure(ErrInactive, s.ledger.Limits())
	}
	var res Result
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx, userID)
		return err
	})
	if err != nil {
		return failure(err, s.ledger.Limits())
	}
	res.Success = true
	// read-your-writes without waiting for the notification round trip
	if err := s.refresh(ctx, userID, allTopics()); err != nil {
		s.log.Warnf("session refresh after write user=%s: %v", userID, err)
	}
	return res
}

func failure(err error, limits model.Limits) Result {
	return Result{Reason: Reason(err, limits), Err: err}
}

// Reason turns a ledger error into a message fit for an end user.
func Reason(err error, limits model.Limits) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, service.ErrInvalidAmount):
		return "Amount must be a positive whole number"
	case errors.Is(err, service.ErrAmountOutOfRange):
		return fmt.Sprintf("Amount is outside the allowed range (deposits %d-%d, withdrawals %d-%d)",
			limits.MinDeposit, limits.MaxDeposit, limits.MinWithdrawal, limits.MaxWithdrawal)
	case errors.Is(err, service.ErrInvalidMethod):
		return "Unsupported withdrawal method"
	case errors.Is(err, repo.ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, repo.ErrInvalidTransition):
		return "This withdrawal request can no longer be changed"
	case errors.Is(err, repo.ErrNotFound):
		return "Not found"
	case errors.Is(err, auth.ErrForbidden):
		return "You are not allowed to do this"
	case errors.Is(err, repo.ErrStoreUnavailable):
		return "Service temporarily unavailable, please try again"
	case errors.Is(err, ErrInactive):
		return "Sign in to use your wallet"
	default:
		return err.Error()
	}
}
