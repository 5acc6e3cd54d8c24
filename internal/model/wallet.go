package model

import "time"

// Wallet is the single balance row owned by a user. Balance is in minor currency units.
type Wallet struct {
	UserID    string    `gorm:"primaryKey;size:64;column:user_id" json:"userId"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   uint64    `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Wallet) TableName() string { return "wallets" }

// Limits are the WALLET_LIMITS amounts exposed to clients for hinting.
type Limits struct {
	MinDeposit    int64 `json:"MIN_DEPOSIT"`
	MaxDeposit    int64 `json:"MAX_DEPOSIT"`
	MinWithdrawal int64 `json:"MIN_WITHDRAWAL"`
	MaxWithdrawal int64 `json:"MAX_WITHDRAWAL"`
}
