package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/fee"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/stats"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultLimits apply when Options.Limits is left empty.
var DefaultLimits = model.Limits{
	MinDeposit:    500,
	MaxDeposit:    2_000_000,
	MinWithdrawal: 1_000,
	MaxWithdrawal: 1_000_000,
}

// Options configures ledger policy.
type Options struct {
	Limits        model.Limits
	Fees          *fee.Calculator
	WithdrawalSLA time.Duration
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// WalletService glues business logic and repository. It owns every balance mutation:
// deposits, payments, earnings and the withdrawal workflow.
type WalletService struct {
	repo  repo.RepositoryInterface
	bus   notify.Publisher
	opts  Options
	locks *keyedMutex
	log   *zap.SugaredLogger
}

// NewWalletService returns WalletService. bus may be nil.
func NewWalletService(r repo.RepositoryInterface, bus notify.Publisher, opts Options, logger *zap.SugaredLogger) *WalletService {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.WithdrawalSLA == 0 {
		opts.WithdrawalSLA = 24 * time.Hour
	}
	if opts.Limits == (model.Limits{}) {
		opts.Limits = DefaultLimits
	}
	if opts.Fees == nil {
		opts.Fees, _ = fee.NewCalculator("0.02", "0.015")
	}
	return &WalletService{repo: r, bus: bus, opts: opts, locks: newKeyedMutex(), log: logger}
}

// Limits exposes WALLET_LIMITS for client-side hinting.
func (s *WalletService) Limits() model.Limits { return s.opts.Limits }

// change describes a committed write for the outbox, the cache and subscribers.
type change struct {
	eventType string
	topics    []notify.Topic
	balance   *int64
	payload   map[string]interface{}
}

// apply runs fn in one DB transaction while holding the user's lock, writes the outbox row
// in that transaction, then refreshes the cache and notifies subscribers after commit.
func (s *WalletService) apply(ctx context.Context, userID string, fn func(tx *gorm.DB) (*change, error)) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var c *change
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = fn(tx); err != nil {
			return err
		}
		c.payload["user_id"] = userID
		payload, err := json.Marshal(c.payload)
		if err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: userID, EventType: c.eventType, Payload: string(payload),
		})
	})
	if err != nil {
		return storeErr(err)
	}

	if c.balance != nil {
		if err := s.repo.CacheBalance(ctx, userID, *c.balance); err != nil {
			s.log.Warnf("cache balance user=%s: %v", userID, err)
		}
	}
	s.publish(ctx, userID, c.eventType, c.topics...)
	return nil
}

func (s *WalletService) publish(ctx context.Context, userID, eventType string, topics ...notify.Topic) {
	if s.bus == nil {
		return
	}
	at := s.opts.Now()
	for _, t := range topics {
		evt := notify.Event{UserID: userID, Topic: t, Type: eventType, At: at}
		if err := s.bus.Publish(ctx, evt); err != nil {
			s.log.Warnf("notify %s user=%s: %v", t, userID, err)
		}
	}
}

func newReference() *string {
	ref := ulid.Make().String()
	return &ref
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// GetOrCreateWallet returns the user's wallet, creating a zero-balance one on first access.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, caller auth.Caller, userID string) (*model.Wallet, error) {
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	w, err := s.repo.GetOrCreateWallet(ctx, s.repo.DB(ctx), userID)
	return w, storeErr(err)
}

// Deposit credits a confirmed top-up. reference is the gateway confirmation id, generated when empty.
func (s *WalletService) Deposit(ctx context.Context, caller auth.Caller, userID string, amount int64, method, description, reference string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < s.opts.Limits.MinDeposit || amount > s.opts.Limits.MaxDeposit {
		return nil, ErrAmountOutOfRange
	}
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	ref := optional(reference)
	if ref == nil {
		ref = newReference()
	}
	t := &model.Transaction{
		UserID: userID, Type: model.TxDeposit, Amount: amount, Status: model.TxCompleted,
		TransactionReference: ref, Method: method, Description: description,
	}
	if err := s.credit(ctx, t, "deposit.completed"); err != nil {
		return nil, err
	}
	s.log.Infof("deposit user=%s amount=%d balance=%d", userID, amount, t.BalanceAfter)
	return t, nil
}

// Earning credits a delivery payout. amount is already net of commission; commission is recorded only.
func (s *WalletService) Earning(ctx context.Context, caller auth.Caller, userID string, amount int64, orderID string, commission int64, description string) (*model.Transaction, error) {
	if amount <= 0 || commission < 0 {
		return nil, ErrInvalidAmount
	}
	if err := caller.CanCredit(userID); err != nil {
		return nil, err
	}
	t := &model.Transaction{
		UserID: userID, Type: model.TxEarning, Amount: amount, Commission: &commission, Status: model.TxCompleted,
		RelatedOrderID: optional(orderID), TransactionReference: newReference(), Description: description,
	}
	if err := s.credit(ctx, t, "earning.completed"); err != nil {
		return nil, err
	}
	s.log.Infof("earning user=%s order=%s amount=%d commission=%d balance=%d", userID, orderID, amount, commission, t.BalanceAfter)
	return t, nil
}

func (s *WalletService) credit(ctx context.Context, t *model.Transaction, eventType string) error {
	return s.apply(ctx, t.UserID, func(tx *gorm.DB) (*change, error) {
		if _, err := s.repo.GetOrCreateWallet(ctx, tx, t.UserID); err != nil {
			return nil, err
		}
		w, err := s.repo.Credit(ctx, tx, t.UserID, t.Amount)
		if err != nil {
			return nil, err
		}
		t.ID = uuid.NewString()
		t.BalanceBefore, t.BalanceAfter = w.Balance-t.Amount, w.Balance
		t.CreatedAt = s.opts.Now()
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return nil, err
		}
		return &change{
			eventType: eventType,
			topics:    []notify.Topic{notify.TopicWallet, notify.TopicTransactions},
			balance:   &w.Balance,
			payload:   map[string]interface{}{"transaction_id": t.ID, "amount": t.Amount, "balance": w.Balance},
		}, nil
	})
}

// Payment debits an order checkout. It fails with repo.ErrInsufficientBalance and records nothing
// if the balance cannot cover amount.
func (s *WalletService) Payment(ctx context.Context, caller auth.Caller, userID string, amount int64, orderID, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	t := &model.Transaction{
		UserID: userID, Type: model.TxPayment, Amount: amount, Status: model.TxCompleted,
		RelatedOrderID: optional(orderID), TransactionReference: newReference(), Description: description,
	}
	err := s.apply(ctx, userID, func(tx *gorm.DB) (*change, error) {
		if _, err := s.repo.GetOrCreateWallet(ctx, tx, userID); err != nil {
			return nil, err
		}
		w, err := s.repo.Debit(ctx, tx, userID, amount)
		if err != nil {
			return nil, err
		}
		t.ID = uuid.NewString()
		t.BalanceBefore, t.BalanceAfter = w.Balance+amount, w.Balance
		t.CreatedAt = s.opts.Now()
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return nil, err
		}
		return &change{
			eventType: "payment.completed",
			topics:    []notify.Topic{notify.TopicWallet, notify.TopicTransactions},
			balance:   &w.Balance,
			payload:   map[string]interface{}{"transaction_id": t.ID, "order_id": orderID, "amount": amount, "balance": w.Balance},
		}, nil
	})
	if err != nil {
		s.log.Infof("payment rejected user=%s order=%s amount=%d: %v", userID, orderID, amount, err)
		return nil, err
	}
	s.log.Infof("payment user=%s order=%s amount=%d balance=%d", userID, orderID, amount, t.BalanceAfter)
	return t, nil
}

// GetBalance returns current wallet balance, from cache when possible.
func (s *WalletService) GetBalance(ctx context.Context, caller auth.Caller, userID string) (int64, error) {
	if err := caller.CanAccess(userID); err != nil {
		return 0, err
	}
	if bal, err := s.repo.GetCachedBalance(ctx, userID); err == nil {
		return bal, nil
	}
	// fill under the writers' lock: a write committing between this read and the cache
	// set would otherwise be overwritten by the older balance
	unlock := s.locks.Lock(userID)
	defer unlock()
	w, err := s.repo.GetOrCreateWallet(ctx, s.repo.DB(ctx), userID)
	if err != nil {
		return 0, storeErr(err)
	}
	_ = s.repo.CacheBalance(ctx, userID, w.Balance)
	return w.Balance, nil
}

// ListTransactions fetches the most recent transactions; limit <= 0 returns the full history.
func (s *WalletService) ListTransactions(ctx context.Context, caller auth.Caller, userID string, limit int) ([]model.Transaction, error) {
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, userID, limit)
	return txs, storeErr(err)
}

// Stats recomputes WalletStats from the full history.
func (s *WalletService) Stats(ctx context.Context, caller auth.Caller, userID string) (model.WalletStats, error) {
	if err := caller.CanAccess(userID); err != nil {
		return model.WalletStats{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, userID, 0)
	if err != nil {
		return model.WalletStats{}, storeErr(err)
	}
	reqs, err := s.repo.ListWithdrawals(ctx, userID)
	if err != nil {
		return model.WalletStats{}, storeErr(err)
	}
	return stats.Compute(txs, reqs, s.opts.Now()), nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
