package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/fee"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	alice    = auth.Caller{UserID: "alice", Role: auth.RoleCustomer}
	bob      = auth.Caller{UserID: "bob", Role: auth.RoleCustomer}
	operator = auth.Caller{UserID: "ops-1", Role: auth.RoleOperator}
)

type fixture struct {
	svc    *WalletService
	db     *gorm.DB
	broker *notify.Broker
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test decorate the repository the service runs on.
func newFixtureWith(t *testing.T, wrap func(repo.RepositoryInterface) repo.RepositoryInterface) *fixture {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repo.AutoMigrate(db))

	log := zap.NewNop().Sugar()
	fees, err := fee.NewCalculator("0.02", "0.015")
	require.NoError(t, err)
	broker := notify.NewBroker(log)
	var r repo.RepositoryInterface = repo.NewRepository(db, nil, nil, log)
	if wrap != nil {
		r = wrap(r)
	}
	svc := NewWalletService(r, broker, Options{
		Limits:        DefaultLimits,
		Fees:          fees,
		WithdrawalSLA: 24 * time.Hour,
	}, log)
	return &fixture{svc: svc, db: db, broker: broker, ctx: context.Background()}
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := f.svc.GetOrCreateWallet(f.ctx, operator, userID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) deposit(t *testing.T, c auth.Caller, amount int64) {
	t.Helper()
	_, err := f.svc.Deposit(f.ctx, c, c.UserID, amount, "orange", "top-up", "")
	require.NoError(t, err)
}

// withdrawalIn opens a request for c and walks it to status.
func (f *fixture) withdrawalIn(t *testing.T, c auth.Caller, amount int64, status model.WithdrawalStatus) *model.WithdrawalRequest {
	t.Helper()
	w, err := f.svc.RequestWithdrawal(f.ctx, c, c.UserID, amount, model.MethodOrange, `{"phone":"+2250700000000"}`)
	require.NoError(t, err)
	path := map[model.WithdrawalStatus][]func() (*model.WithdrawalRequest, error){
		model.WithdrawalPending: nil,
		model.WithdrawalApproved: {
			func() (*model.WithdrawalRequest, error) { return f.svc.Approve(f.ctx, operator, w.ID) },
		},
		model.WithdrawalProcessing: {
			func() (*model.WithdrawalRequest, error) { return f.svc.Approve(f.ctx, operator, w.ID) },
			func() (*model.WithdrawalRequest, error) { return f.svc.StartProcessing(f.ctx, operator, w.ID) },
		},
		model.WithdrawalCompleted: {
			func() (*model.WithdrawalRequest, error) { return f.svc.Approve(f.ctx, operator, w.ID) },
			func() (*model.WithdrawalRequest, error) { return f.svc.StartProcessing(f.ctx, operator, w.ID) },
			func() (*model.WithdrawalRequest, error) { return f.svc.Complete(f.ctx, operator, w.ID) },
		},
		model.WithdrawalFailed: {
			func() (*model.WithdrawalRequest, error) { return f.svc.Approve(f.ctx, operator, w.ID) },
			func() (*model.WithdrawalRequest, error) { return f.svc.StartProcessing(f.ctx, operator, w.ID) },
			func() (*model.WithdrawalRequest, error) { return f.svc.Fail(f.ctx, operator, w.ID, "network error") },
		},
		model.WithdrawalCancelled: {
			func() (*model.WithdrawalRequest, error) { return f.svc.Cancel(f.ctx, c, w.ID, "changed my mind") },
		},
	}
	steps, ok := path[status]
	require.True(t, ok, "no path to %s", status)
	for _, step := range steps {
		w, err = step()
		require.NoError(t, err)
	}
	require.Equal(t, status, w.Status)
	return w
}
