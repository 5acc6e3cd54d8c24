package model

import "time"

// DayActivity is one bucket of the trailing seven-day window.
type DayActivity struct {
	Date     time.Time `json:"date"`
	Deposits int64     `json:"deposits"`
	Payments int64     `json:"payments"`
	Earnings int64     `json:"earnings"`
	Balance  int64     `json:"balance"`
}

// WalletStats is a projection of a user's history; it is never persisted.
type WalletStats struct {
	TotalDeposits     int64         `json:"totalDeposits"`
	TotalPayments     int64         `json:"totalPayments"`
	TotalEarnings     int64         `json:"totalEarnings"`
	TotalWithdrawals  int64         `json:"totalWithdrawals"`
	TransactionCount  int           `json:"transactionCount"`
	Last7DaysActivity []DayActivity `json:"last7DaysActivity"`
}
