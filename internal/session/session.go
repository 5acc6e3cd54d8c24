// Package session keeps a connected caller's view of one wallet: balance, recent
// transactions, withdrawal requests and stats. It is a read-through projection refreshed
// by change notifications; every write is delegated to the ledger and only confirmed
// results ever reach the cached state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/retry"
	"go.uber.org/zap"
)

// ErrInactive is returned by mutators called before Activate or after Deactivate.
var ErrInactive = errors.New("session is not active")

// Ledger is the part of the wallet service a session reads from and delegates to.
type Ledger interface {
	Limits() model.Limits
	GetOrCreateWallet(ctx context.Context, caller auth.Caller, userID string) (*model.Wallet, error)
	ListTransactions(ctx context.Context, caller auth.Caller, userID string, limit int) ([]model.Transaction, error)
	ListWithdrawals(ctx context.Context, caller auth.Caller, userID string) ([]model.WithdrawalRequest, error)
	Stats(ctx context.Context, caller auth.Caller, userID string) (model.WalletStats, error)

	Deposit(ctx context.Context, caller auth.Caller, userID string, amount int64, method, description, reference string) (*model.Transaction, error)
	Payment(ctx context.Context, caller auth.Caller, userID string, amount int64, orderID, description string) (*model.Transaction, error)
	Earning(ctx context.Context, caller auth.Caller, userID string, amount int64, orderID string, commission int64, description string) (*model.Transaction, error)
	RequestWithdrawal(ctx context.Context, caller auth.Caller, userID string, amount int64, method model.WithdrawalMethod, accountDetails string) (*model.WithdrawalRequest, error)
	Cancel(ctx context.Context, caller auth.Caller, id, reason string) (*model.WithdrawalRequest, error)
}

// Snapshot is one consistent view of a wallet. It is replaced whole, never patched in place.
type Snapshot struct {
	UserID       string                    `json:"userId"`
	Wallet       model.Wallet              `json:"wallet"`
	Transactions []model.Transaction       `json:"transactions"`
	Withdrawals  []model.WithdrawalRequest `json:"withdrawalRequests"`
	Stats        model.WalletStats         `json:"stats"`
	Limits       model.Limits              `json:"limits"`
	RefreshedAt  time.Time                 `json:"refreshedAt"`
}

// Options tunes a session.
type Options struct {
	// HistoryLimit is how many recent transactions are cached.
	HistoryLimit int
	Retry        retry.Policy
}

// Session is the cached wallet state of one caller. Safe for concurrent use.
type Session struct {
	ledger Ledger
	sub    notify.Subscriber
	caller auth.Caller
	opts   Options
	log    *zap.SugaredLogger

	// lifecycle
	lifeMu sync.Mutex
	userID string
	subscr notify.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	// refreshMu orders fetches so a slow one cannot overwrite a newer one.
	refreshMu sync.Mutex

	mu   sync.RWMutex
	snap *Snapshot

	lmu       sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
}

// New returns an inactive session acting as caller.
func New(ledger Ledger, sub notify.Subscriber, caller auth.Caller, opts Options, log *zap.SugaredLogger) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	return &Session{
		ledger:    ledger,
		sub:       sub,
		caller:    caller,
		opts:      opts,
		log:       log,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Activate loads userID's state and starts following its change notifications.
// An active session for another user is deactivated first.
func (s *Session) Activate(ctx context.Context, userID string) error {
	if err := s.caller.CanAccess(userID); err != nil {
		return err
	}
	if err := s.Deactivate(); err != nil {
		s.log.Warnf("session: deactivate before activate: %v", err)
	}

	// subscribe before the first load so a write between the two is not missed
	subscr, err := s.sub.Subscribe(ctx, userID, notify.AllTopics...)
	if err != nil {
		return err
	}
	s.lifeMu.Lock()
	s.userID = userID
	s.lifeMu.Unlock()

	if err := s.refresh(ctx, userID, allTopics()); err != nil {
		s.lifeMu.Lock()
		s.userID = ""
		s.lifeMu.Unlock()
		_ = subscr.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.lifeMu.Lock()
	s.subscr, s.cancel, s.done = subscr, cancel, done
	s.lifeMu.Unlock()

	go s.follow(loopCtx, userID, subscr, done)
	s.log.Infof("session activated user=%s caller=%s/%s", userID, s.caller.Role, s.caller.UserID)
	return nil
}

// Deactivate stops following notifications and drops the cached state. It is a no-op on an inactive session.
func (s *Session) Deactivate() error {
	s.lifeMu.Lock()
	subscr, cancel, done, userID := s.subscr, s.cancel, s.done, s.userID
	s.subscr, s.cancel, s.done, s.userID = nil, nil, nil, ""
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
	s.lifeMu.Unlock()

	var err error
	if cancel != nil {
		cancel()
	}
	if subscr != nil {
		err = subscr.Close()
	}
	if done != nil {
		<-done
	}
	if userID != "" {
		s.log.Infof("session deactivated user=%s", userID)
	}
	return err
}

// Active reports the user the session follows, if any.
func (s *Session) Active() (string, bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.userID, s.userID != ""
}

// Snapshot returns a copy of the cached state. ok is false while inactive.
func (s *Session) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, false
	}
	return s.snap.clone(), true
}

// Balance is a shortcut for the cached wallet balance.
func (s *Session) Balance() int64 {
	snap, _ := s.Snapshot()
	return snap.Wallet.Balance
}

// OnChange registers fn to run after every snapshot swap. The returned func unregisters it.
// fn runs on the refreshing goroutine and must not block.
func (s *Session) OnChange(fn func(Snapshot)) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Session) follow(ctx context.Context, userID string, subscr notify.Subscription, done chan struct{}) {
	defer close(done)
	events := subscr.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			topics := map[notify.Topic]bool{evt.Topic: true}
			// coalesce whatever else is already queued into one refresh
		drain:
			for {
				select {
				case more, ok := <-events:
					if !ok {
						break drain
					}
					topics[more.Topic] = true
				default:
					break drain
				}
			}
			if err := s.refresh(ctx, userID, topics); err != nil && ctx.Err() == nil {
				s.log.Warnf("session refresh user=%s: %v", userID, err)
			}
		}
	}
}

func allTopics() map[notify.Topic]bool {
	m := make(map[notify.Topic]bool, len(notify.AllTopics))
	for _, t := range notify.AllTopics {
		m[t] = true
	}
	return m
}

// refreshAttempts bounds how often refresh re-reads while the wallet keeps changing under it.
const refreshAttempts = 3

// errUnsettled means every attempt saw a write land mid-fetch; the next notification retries.
var errUnsettled = errors.New("wallet changed during every refresh attempt")

// refresh re-fetches the slices named by topics, recomputes stats and swaps the snapshot.
// The wallet is read before and after the other slices; if its version moved, a write
// landed mid-fetch and the whole read is repeated so balance and history never disagree.
func (s *Session) refresh(ctx context.Context, userID string, topics map[notify.Topic]bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	base := Snapshot{UserID: userID, Limits: s.ledger.Limits()}
	if cur, ok := s.Snapshot(); ok && cur.UserID == userID {
		base = cur
	} else {
		topics = allTopics()
	}

	var next Snapshot
	settled := false
	for attempt := 0; attempt < refreshAttempts && !settled; attempt++ {
		var err error
		if next, settled, err = s.fetch(ctx, userID, base, topics); err != nil {
			return err
		}
	}
	if !settled {
		return errUnsettled
	}
	// a lagging read must not roll the balance back
	if next.Wallet.Version < base.Wallet.Version {
		s.log.Debugf("session: dropped stale read user=%s version=%d < %d", userID, next.Wallet.Version, base.Wallet.Version)
		return nil
	}
	next.RefreshedAt = time.Now().UTC()

	// a session deactivated or switched meanwhile keeps its state
	s.lifeMu.Lock()
	if s.userID != userID {
		s.lifeMu.Unlock()
		return nil
	}
	s.mu.Lock()
	s.snap = &next
	s.mu.Unlock()
	s.lifeMu.Unlock()
	s.emit(next)
	return nil
}

// fetch reads one candidate snapshot on top of base. settled is false when the wallet
// version changed between the first and last read.
func (s *Session) fetch(ctx context.Context, userID string, base Snapshot, topics map[notify.Topic]bool) (Snapshot, bool, error) {
	next := base.clone()
	before, err := s.ledger.GetOrCreateWallet(ctx, s.caller, userID)
	if err != nil {
		return next, false, err
	}
	if topics[notify.TopicTransactions] {
		txs, err := s.ledger.ListTransactions(ctx, s.caller, userID, s.opts.HistoryLimit)
		if err != nil {
			return next, false, err
		}
		next.Transactions = txs
	}
	if topics[notify.TopicWithdrawals] {
		ws, err := s.ledger.ListWithdrawals(ctx, s.caller, userID)
		if err != nil {
			return next, false, err
		}
		next.Withdrawals = ws
	}
	st, err := s.ledger.Stats(ctx, s.caller, userID)
	if err != nil {
		return next, false, err
	}
	next.Stats = st
	after, err := s.ledger.GetOrCreateWallet(ctx, s.caller, userID)
	if err != nil {
		return next, false, err
	}
	next.Wallet = *after
	return next, after.Version == before.Version, nil
}

func (s *Session) emit(snap Snapshot) {
	s.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(snap.clone())
	}
}

func (snap Snapshot) clone() Snapshot {
	out := snap
	out.Transactions = append([]model.Transaction(nil), snap.Transactions...)
	out.Withdrawals = append([]model.WithdrawalRequest(nil), snap.Withdrawals...)
	out.Stats.Last7DaysActivity = append([]model.DayActivity(nil), snap.Stats.Last7DaysActivity...)
	return out
}
