package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"gorm.io/gorm"
)

// RequestWithdrawal reserves amount against the balance and opens a pending request.
// Funds leave the spendable balance now, not at approval, so neither a payment nor a second
// request can spend them. Nothing is persisted when the reservation fails.
func (s *WalletService) RequestWithdrawal(ctx context.Context, caller auth.Caller, userID string, amount int64, method model.WithdrawalMethod, accountDetails string) (*model.WithdrawalRequest, error) {
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < s.opts.Limits.MinWithdrawal || amount > s.opts.Limits.MaxWithdrawal {
		return nil, ErrAmountOutOfRange
	}
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}
	fee, net := s.opts.Fees.Split(amount, method)

	var req *model.WithdrawalRequest
	err := s.apply(ctx, userID, func(tx *gorm.DB) (*change, error) {
		if _, err := s.repo.GetOrCreateWallet(ctx, tx, userID); err != nil {
			return nil, err
		}
		// balance already excludes every open request, so it is the available amount
		w, err := s.repo.Debit(ctx, tx, userID, amount)
		if err != nil {
			return nil, err
		}
		now := s.opts.Now()
		req = &model.WithdrawalRequest{
			ID: uuid.NewString(), UserID: userID,
			Amount: amount, Fee: fee, NetAmount: net,
			Method: method, AccountDetails: accountDetails,
			Status: model.WithdrawalPending, TransactionID: uuid.NewString(),
			RequestDate: now, EstimatedDate: now.Add(s.opts.WithdrawalSLA),
		}
		t := &model.Transaction{
			ID: req.TransactionID, UserID: userID, Type: model.TxWithdrawal,
			Amount: amount, Commission: &fee, Status: model.TxPending,
			TransactionReference: newReference(), Method: string(method),
			Description:   fmt.Sprintf("Withdrawal via %s", method),
			BalanceBefore: w.Balance + amount, BalanceAfter: w.Balance,
			WithdrawalRequestID: &req.ID, CreatedAt: now,
		}
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return nil, err
		}
		if err := s.repo.CreateWithdrawal(ctx, tx, req); err != nil {
			return nil, err
		}
		return &change{
			eventType: "withdrawal.requested",
			topics:    []notify.Topic{notify.TopicWallet, notify.TopicTransactions, notify.TopicWithdrawals},
			balance:   &w.Balance,
			payload: map[string]interface{}{
				"withdrawal_id": req.ID, "amount": amount, "fee": fee, "net_amount": net,
				"method": method, "balance": w.Balance,
			},
		}, nil
	})
	if err != nil {
		s.log.Infof("withdrawal rejected user=%s amount=%d method=%s: %v", userID, amount, method, err)
		return nil, err
	}
	s.log.Infof("withdrawal requested id=%s user=%s amount=%d fee=%d net=%d", req.ID, userID, amount, fee, net)
	return req, nil
}

// transition is one edge set of the withdrawal state machine.
type transition struct {
	name  string
	from  []model.WithdrawalStatus
	to    model.WithdrawalStatus
	stamp string
	// reasonCol receives the caller's reason, if any.
	reasonCol string
	// txStatus is the status the withdrawal transaction moves to; empty leaves it pending.
	txStatus model.TransactionStatus
	// creditBack returns the reserved amount to the balance.
	creditBack bool
	// ownerMay lets the request owner trigger the edge; otherwise operator/system only.
	ownerMay bool
}

var (
	approveEdge = transition{
		name: "approve", from: []model.WithdrawalStatus{model.WithdrawalPending},
		to: model.WithdrawalApproved, stamp: "approved_date",
	}
	startEdge = transition{
		name: "start_processing", from: []model.WithdrawalStatus{model.WithdrawalApproved},
		to: model.WithdrawalProcessing, stamp: "processed_date",
	}
	completeEdge = transition{
		name: "complete", from: []model.WithdrawalStatus{model.WithdrawalProcessing},
		to: model.WithdrawalCompleted, stamp: "completed_date", txStatus: model.TxCompleted,
	}
	failEdge = transition{
		name: "fail", from: []model.WithdrawalStatus{model.WithdrawalProcessing},
		to: model.WithdrawalFailed, stamp: "failed_date", reasonCol: "failure_reason",
		txStatus: model.TxFailed, creditBack: true,
	}
	rejectEdge = transition{
		name: "reject", from: []model.WithdrawalStatus{model.WithdrawalPending},
		to: model.WithdrawalCancelled, stamp: "cancelled_date", reasonCol: "cancellation_reason",
		txStatus: model.TxFailed, creditBack: true,
	}
	cancelEdge = transition{
		name: "cancel", from: []model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalApproved},
		to: model.WithdrawalCancelled, stamp: "cancelled_date", reasonCol: "cancellation_reason",
		txStatus: model.TxFailed, creditBack: true, ownerMay: true,
	}
)

func (t transition) allows(st model.WithdrawalStatus) bool {
	for _, f := range t.from {
		if f == st {
			return true
		}
	}
	return false
}

// Approve moves pending to approved.
func (s *WalletService) Approve(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, approveEdge, "")
}

// Reject is an operator refusal of a pending request; funds are credited back.
func (s *WalletService) Reject(ctx context.Context, caller auth.Caller, id, reason string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, rejectEdge, reason)
}

// StartProcessing moves approved to processing.
func (s *WalletService) StartProcessing(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, startEdge, "")
}

// Complete finalizes a payout. The balance was debited at request time and is not touched again.
func (s *WalletService) Complete(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, completeEdge, "")
}

// Fail marks a processing payout as failed and credits the reserved amount back.
func (s *WalletService) Fail(ctx context.Context, caller auth.Caller, id, reason string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, failEdge, reason)
}

// Cancel withdraws a pending or approved request and credits the reserved amount back.
func (s *WalletService) Cancel(ctx context.Context, caller auth.Caller, id, reason string) (*model.WithdrawalRequest, error) {
	return s.transition(ctx, caller, id, cancelEdge, reason)
}

func (s *WalletService) transition(ctx context.Context, caller auth.Caller, id string, edge transition, reason string) (*model.WithdrawalRequest, error) {
	cur, err := s.repo.GetWithdrawal(ctx, s.repo.DB(ctx), id)
	if err != nil {
		return nil, storeErr(err)
	}
	if edge.ownerMay {
		err = caller.CanAccess(cur.UserID)
	} else {
		err = caller.CanOperate()
	}
	if err != nil {
		return nil, err
	}

	var out *model.WithdrawalRequest
	err = s.apply(ctx, cur.UserID, func(tx *gorm.DB) (*change, error) {
		w, err := s.repo.GetWithdrawal(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !edge.allows(w.Status) {
			return nil, fmt.Errorf("%w: cannot %s a %s request", repo.ErrInvalidTransition, edge.name, w.Status)
		}
		fields := map[string]interface{}{edge.stamp: s.opts.Now()}
		if edge.reasonCol != "" && reason != "" {
			fields[edge.reasonCol] = reason
		}
		// compare-and-swap on status: a concurrent transition makes this fail and rolls back the credit
		if err := s.repo.TransitionWithdrawal(ctx, tx, id, w.Status, edge.to, fields); err != nil {
			return nil, err
		}
		c := &change{
			eventType: "withdrawal." + string(edge.to),
			topics:    []notify.Topic{notify.TopicWithdrawals},
			payload:   map[string]interface{}{"withdrawal_id": id, "status": edge.to, "amount": w.Amount},
		}
		if edge.txStatus != "" {
			if err := s.repo.SetTransactionStatus(ctx, tx, w.TransactionID, model.TxPending, edge.txStatus); err != nil {
				return nil, err
			}
			c.topics = append(c.topics, notify.TopicTransactions)
		}
		if edge.creditBack {
			wallet, err := s.repo.Credit(ctx, tx, w.UserID, w.Amount)
			if err != nil {
				return nil, err
			}
			c.balance = &wallet.Balance
			c.payload["balance"] = wallet.Balance
			c.topics = append(c.topics, notify.TopicWallet)
		}
		if out, err = s.repo.GetWithdrawal(ctx, tx, id); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		s.log.Warnf("withdrawal %s id=%s by %s/%s: %v", edge.name, id, caller.Role, caller.UserID, err)
		return nil, err
	}
	s.log.Infof("withdrawal %s id=%s user=%s status=%s", edge.name, id, out.UserID, out.Status)
	return out, nil
}

// GetWithdrawal returns one request visible to caller.
func (s *WalletService) GetWithdrawal(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error) {
	w, err := s.repo.GetWithdrawal(ctx, s.repo.DB(ctx), id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := caller.CanAccess(w.UserID); err != nil {
		return nil, err
	}
	return w, nil
}

// ListWithdrawals returns all of a user's requests, newest first.
func (s *WalletService) ListWithdrawals(ctx context.Context, caller auth.Caller, userID string) ([]model.WithdrawalRequest, error) {
	if err := caller.CanAccess(userID); err != nil {
		return nil, err
	}
	ws, err := s.repo.ListWithdrawals(ctx, userID)
	return ws, storeErr(err)
}

// ListWithdrawalsByStatus is the operator queue: requests that entered status at or before the cutoff.
func (s *WalletService) ListWithdrawalsByStatus(ctx context.Context, caller auth.Caller, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error) {
	if err := caller.CanOperate(); err != nil {
		return nil, err
	}
	ws, err := s.repo.ListWithdrawalsByStatus(ctx, status, before, limit)
	return ws, storeErr(err)
}
