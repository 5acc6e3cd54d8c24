package model

import "time"

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxPayment    TransactionType = "payment"
	TxEarning    TransactionType = "earning"
	TxWithdrawal TransactionType = "withdrawal"
)

// Credit reports whether the type increases balance.
func (t TransactionType) Credit() bool {
	return t == TxDeposit || t == TxEarning
}

// Sign is +1 for credits and -1 for debits.
func (t TransactionType) Sign() int64 {
	if t.Credit() {
		return 1
	}
	return -1
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is one ledger entry. Amount is always positive; direction comes from Type.
type Transaction struct {
	ID                   string            `gorm:"primaryKey;size:36" json:"id"`
	UserID               string            `gorm:"size:64;not null;index:idx_tx_user_created,priority:1" json:"userId"`
	Type                 TransactionType   `gorm:"size:16;not null" json:"type"`
	Amount               int64             `gorm:"not null" json:"amount"`
	Commission           *int64            `json:"commission,omitempty"`
	Status               TransactionStatus `gorm:"size:16;not null" json:"status"`
	RelatedOrderID       *string           `gorm:"size:64" json:"relatedOrderId,omitempty"`
	TransactionReference *string           `gorm:"column:reference;size:64" json:"transactionReference,omitempty"`
	Method               string            `gorm:"size:32" json:"method,omitempty"`
	Description          string            `gorm:"size:255" json:"description"`
	BalanceBefore        int64             `gorm:"not null" json:"balanceBefore"`
	BalanceAfter         int64             `gorm:"not null" json:"balanceAfter"`
	WithdrawalRequestID  *string           `gorm:"size:36;index" json:"withdrawalRequestId,omitempty"`
	CreatedAt            time.Time         `gorm:"index:idx_tx_user_created,priority:2" json:"createdAt"`
}

func (Transaction) TableName() string { return "wallet_transactions" }

// SignedAmount applies the type's direction to Amount.
func (t Transaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}
