// Package retry re-runs ledger calls that failed on transient store errors.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/repo"
)

// Policy bounds the attempts. Backoff doubles after each failed attempt.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// Only repo.ErrStoreUnavailable is retried; the ledger guarantees a failed call changed nothing.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !errors.Is(err, repo.ErrStoreUnavailable) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
