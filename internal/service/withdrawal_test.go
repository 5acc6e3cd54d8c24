package service

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawal_FailScenario(t *testing.T) {
	f := newFixture(t)

	f.deposit(t, alice, 50_000)
	assert.Equal(t, int64(50_000), f.balance(t, "alice"))

	w, err := f.svc.RequestWithdrawal(f.ctx, alice, "alice", 20_000, model.MethodOrange, `{"phone":"0700000000"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(400), w.Fee)
	assert.Equal(t, int64(19_600), w.NetAmount)
	assert.Equal(t, model.WithdrawalPending, w.Status)
	assert.Equal(t, int64(30_000), f.balance(t, "alice"))
	assert.WithinDuration(t, w.RequestDate.Add(24*time.Hour), w.EstimatedDate, time.Second)

	_, err = f.svc.Approve(f.ctx, operator, w.ID)
	require.NoError(t, err)
	_, err = f.svc.StartProcessing(f.ctx, operator, w.ID)
	require.NoError(t, err)
	w, err = f.svc.Fail(f.ctx, operator, w.ID, "network error")
	require.NoError(t, err)

	assert.Equal(t, model.WithdrawalFailed, w.Status)
	require.NotNil(t, w.FailureReason)
	assert.Equal(t, "network error", *w.FailureReason)
	assert.NotNil(t, w.ApprovedDate)
	assert.NotNil(t, w.ProcessedDate)
	assert.NotNil(t, w.FailedDate)
	assert.Equal(t, int64(50_000), f.balance(t, "alice"))

	var tx model.Transaction
	require.NoError(t, f.db.First(&tx, "id = ?", w.TransactionID).Error)
	assert.Equal(t, model.TxFailed, tx.Status)
	assert.Equal(t, model.TxWithdrawal, tx.Type)
	assert.Equal(t, int64(20_000), tx.Amount)
}

func TestWithdrawal_CompleteDoesNotTouchBalance(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)

	w := f.withdrawalIn(t, alice, 20_000, model.WithdrawalCompleted)
	assert.NotNil(t, w.CompletedDate)
	assert.Equal(t, int64(30_000), f.balance(t, "alice"))

	var tx model.Transaction
	require.NoError(t, f.db.First(&tx, "id = ?", w.TransactionID).Error)
	assert.Equal(t, model.TxCompleted, tx.Status)
}

func TestWithdrawal_Validation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)

	_, err := f.svc.RequestWithdrawal(f.ctx, alice, "alice", DefaultLimits.MinWithdrawal-1, model.MethodOrange, "{}")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
	_, err = f.svc.RequestWithdrawal(f.ctx, alice, "alice", DefaultLimits.MaxWithdrawal+1, model.MethodOrange, "{}")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
	_, err = f.svc.RequestWithdrawal(f.ctx, alice, "alice", 0, model.MethodOrange, "{}")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.RequestWithdrawal(f.ctx, alice, "alice", 5_000, "paypal", "{}")
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = f.svc.RequestWithdrawal(f.ctx, bob, "alice", 5_000, model.MethodOrange, "{}")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.RequestWithdrawal(f.ctx, alice, "alice", 60_000, model.MethodOrange, "{}")
	assert.ErrorIs(t, err, repo.ErrInsufficientBalance)

	assert.Equal(t, int64(50_000), f.balance(t, "alice"))
	ws, err := f.svc.ListWithdrawals(f.ctx, alice, "alice")
	require.NoError(t, err)
	assert.Empty(t, ws, "rejected requests leave nothing behind")
	txs, err := f.svc.ListTransactions(f.ctx, alice, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestWithdrawal_BankTransferFee(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)

	w, err := f.svc.RequestWithdrawal(f.ctx, alice, "alice", 20_000, model.MethodBankTransfer, `{"iban":"CI93..."}`)
	require.NoError(t, err)
	assert.Equal(t, int64(300), w.Fee)
	assert.Equal(t, w.Amount, w.Fee+w.NetAmount)
}

func TestWithdrawal_ConcurrentRequestsOnlyOneReserves(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RequestWithdrawal(f.ctx, alice, "alice", 70_000, model.MethodOrange, "{}")
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repo.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(30_000), f.balance(t, "alice"))
}

func TestWithdrawal_ReservedFundsCannotBePaid(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)
	f.withdrawalIn(t, alice, 40_000, model.WithdrawalPending)

	_, err := f.svc.Payment(f.ctx, alice, "alice", 20_000, "order-1", "")
	assert.ErrorIs(t, err, repo.ErrInsufficientBalance)
	assert.Equal(t, int64(10_000), f.balance(t, "alice"))
}

func TestWithdrawal_StateMachine(t *testing.T) {
	type op func(f *fixture, id string) (*model.WithdrawalRequest, error)
	ops := map[string]op{
		"approve":  func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.Approve(f.ctx, operator, id) },
		"reject":   func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.Reject(f.ctx, operator, id, "kyc") },
		"start":    func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.StartProcessing(f.ctx, operator, id) },
		"complete": func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.Complete(f.ctx, operator, id) },
		"fail":     func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.Fail(f.ctx, operator, id, "x") },
		"cancel":   func(f *fixture, id string) (*model.WithdrawalRequest, error) { return f.svc.Cancel(f.ctx, operator, id, "x") },
	}
	legal := map[model.WithdrawalStatus]map[string]model.WithdrawalStatus{
		model.WithdrawalPending: {
			"approve": model.WithdrawalApproved, "reject": model.WithdrawalCancelled, "cancel": model.WithdrawalCancelled,
		},
		model.WithdrawalApproved:   {"start": model.WithdrawalProcessing, "cancel": model.WithdrawalCancelled},
		model.WithdrawalProcessing: {"complete": model.WithdrawalCompleted, "fail": model.WithdrawalFailed},
		model.WithdrawalCompleted:  {},
		model.WithdrawalFailed:     {},
		model.WithdrawalCancelled:  {},
	}

	for from, allowed := range legal {
		for name, run := range ops {
			from, name, run := from, name, run
			t.Run(string(from)+"/"+name, func(t *testing.T) {
				f := newFixture(t)
				f.deposit(t, alice, 50_000)
				w := f.withdrawalIn(t, alice, 10_000, from)
				before := f.balance(t, "alice")

				got, err := run(f, w.ID)
				to, ok := allowed[name]
				if !ok {
					assert.ErrorIs(t, err, repo.ErrInvalidTransition)
					assert.Equal(t, before, f.balance(t, "alice"))
					cur, err := f.svc.GetWithdrawal(f.ctx, alice, w.ID)
					require.NoError(t, err)
					assert.Equal(t, from, cur.Status)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
			})
		}
	}
}

func TestWithdrawal_CreditBackOnce(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)
	w := f.withdrawalIn(t, alice, 20_000, model.WithdrawalPending)
	assert.Equal(t, int64(30_000), f.balance(t, "alice"))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Cancel(f.ctx, alice, w.ID, "oops")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, repo.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(50_000), f.balance(t, "alice"))

	_, err := f.svc.Fail(f.ctx, operator, w.ID, "late")
	assert.ErrorIs(t, err, repo.ErrInvalidTransition)
	assert.Equal(t, int64(50_000), f.balance(t, "alice"))
}

func TestWithdrawal_Authorization(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 50_000)
	w := f.withdrawalIn(t, alice, 10_000, model.WithdrawalPending)

	_, err := f.svc.Approve(f.ctx, alice, w.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.Reject(f.ctx, alice, w.ID, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.Cancel(f.ctx, bob, w.ID, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.GetWithdrawal(f.ctx, bob, w.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.ListWithdrawalsByStatus(f.ctx, alice, model.WithdrawalPending, time.Now(), 10)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Approve(f.ctx, operator, "does-not-exist")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	queue, err := f.svc.ListWithdrawalsByStatus(f.ctx, operator, model.WithdrawalPending, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, w.ID, queue[0].ID)
}

// The ledger invariant must hold after every step of an arbitrary operation sequence.
func TestLedgerInvariant_RandomSequence(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	var open []string

	check := func() {
		t.Helper()
		txs, err := f.svc.ListTransactions(f.ctx, alice, "alice", 0)
		require.NoError(t, err)
		ws, err := f.svc.ListWithdrawals(f.ctx, alice, "alice")
		require.NoError(t, err)

		var want int64
		for _, tx := range txs {
			if tx.Status == model.TxCompleted && tx.Type != model.TxWithdrawal {
				want += tx.SignedAmount()
			}
		}
		for _, w := range ws {
			if w.Status != model.WithdrawalFailed && w.Status != model.WithdrawalCancelled {
				want -= w.Amount
			}
		}
		got := f.balance(t, "alice")
		assert.Equal(t, want, got)
		assert.GreaterOrEqual(t, got, int64(0))
	}

	for i := 0; i < 60; i++ {
		amount := int64(1_000 + rng.Intn(30)*1_000)
		switch rng.Intn(6) {
		case 0:
			_, _ = f.svc.Deposit(f.ctx, alice, "alice", amount, "mtn", "", "")
		case 1:
			_, _ = f.svc.Payment(f.ctx, alice, "alice", amount, "o", "")
		case 2:
			_, _ = f.svc.Earning(f.ctx, auth.System, "alice", amount, "o", 100, "")
		case 3:
			if w, err := f.svc.RequestWithdrawal(f.ctx, alice, "alice", amount, model.MethodWave, "{}"); err == nil {
				open = append(open, w.ID)
			}
		case 4, 5:
			if len(open) == 0 {
				continue
			}
			id := open[rng.Intn(len(open))]
			switch rng.Intn(5) {
			case 0:
				_, _ = f.svc.Approve(f.ctx, operator, id)
			case 1:
				_, _ = f.svc.StartProcessing(f.ctx, operator, id)
			case 2:
				_, _ = f.svc.Complete(f.ctx, operator, id)
			case 3:
				_, _ = f.svc.Fail(f.ctx, operator, id, "x")
			case 4:
				_, _ = f.svc.Cancel(f.ctx, alice, id, "x")
			}
		}
		check()
	}
}
