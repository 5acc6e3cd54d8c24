package model

import "time"

type WithdrawalMethod string

const (
	MethodOrange       WithdrawalMethod = "orange"
	MethodMTN          WithdrawalMethod = "mtn"
	MethodMoov         WithdrawalMethod = "moov"
	MethodWave         WithdrawalMethod = "wave"
	MethodBankTransfer WithdrawalMethod = "bank_transfer"
)

// MobileMoney reports whether the method is a mobile-money operator.
func (m WithdrawalMethod) MobileMoney() bool {
	switch m {
	case MethodOrange, MethodMTN, MethodMoov, MethodWave:
		return true
	}
	return false
}

func (m WithdrawalMethod) Valid() bool {
	return m.MobileMoney() || m == MethodBankTransfer
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Terminal statuses never transition again.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed || s == WithdrawalCancelled
}

// Open statuses hold reserved funds.
func (s WithdrawalStatus) Open() bool {
	return s == WithdrawalPending || s == WithdrawalApproved || s == WithdrawalProcessing
}

// WithdrawalRequest tracks a payout from reservation to a terminal state.
// AccountDetails is opaque JSON supplied by the client.
type WithdrawalRequest struct {
	ID                 string           `gorm:"primaryKey;size:36" json:"id"`
	UserID             string           `gorm:"size:64;not null;index" json:"userId"`
	Amount             int64            `gorm:"not null" json:"amount"`
	Fee                int64            `gorm:"not null" json:"fee"`
	NetAmount          int64            `gorm:"not null" json:"netAmount"`
	Method             WithdrawalMethod `gorm:"size:32;not null" json:"method"`
	AccountDetails     string           `gorm:"type:text" json:"accountDetails"`
	Status             WithdrawalStatus `gorm:"size:16;not null;index" json:"status"`
	TransactionID      string           `gorm:"size:36;not null" json:"transactionId"`
	RequestDate        time.Time        `gorm:"not null" json:"requestDate"`
	ApprovedDate       *time.Time       `json:"approvedDate,omitempty"`
	ProcessedDate      *time.Time       `json:"processedDate,omitempty"`
	CompletedDate      *time.Time       `json:"completedDate,omitempty"`
	FailedDate         *time.Time       `json:"failedDate,omitempty"`
	CancelledDate      *time.Time       `json:"cancelledDate,omitempty"`
	EstimatedDate      time.Time        `json:"estimatedDate"`
	FailureReason      *string          `gorm:"size:255" json:"failureReason,omitempty"`
	CancellationReason *string          `gorm:"size:255" json:"cancellationReason,omitempty"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

// CreditedBackAt returns when reserved funds were returned, nil while they are still held or paid out.
func (w WithdrawalRequest) CreditedBackAt() *time.Time {
	switch w.Status {
	case WithdrawalFailed:
		return w.FailedDate
	case WithdrawalCancelled:
		return w.CancelledDate
	}
	return nil
}
