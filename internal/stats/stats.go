// Package stats derives WalletStats from a user's ledger history.
package stats

import (
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
)

// Days is the size of the trailing activity window.
const Days = 7

// Compute sums completed transactions by type and buckets the last Days days ending at now.
// Balance snapshots are end-of-day values replayed from the same history: completed
// deposits/earnings/payments plus withdrawal reservations and their credit-backs.
// Withdrawal transactions are skipped in the replay since the requests already carry that movement.
func Compute(txs []model.Transaction, reqs []model.WithdrawalRequest, now time.Time) model.WalletStats {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	windowStart := today.AddDate(0, 0, -(Days - 1))

	out := model.WalletStats{
		TransactionCount:  len(txs),
		Last7DaysActivity: make([]model.DayActivity, Days),
	}
	for i := range out.Last7DaysActivity {
		out.Last7DaysActivity[i].Date = windowStart.AddDate(0, 0, i)
	}

	var opening int64
	deltas := make([]int64, Days)
	apply := func(at time.Time, delta int64) {
		idx := bucket(at, windowStart, loc)
		switch {
		case idx < 0:
			opening += delta
		case idx < Days:
			deltas[idx] += delta
		}
	}

	for _, t := range txs {
		if t.Status != model.TxCompleted {
			continue
		}
		idx := bucket(t.CreatedAt, windowStart, loc)
		var day *model.DayActivity
		if idx >= 0 && idx < Days {
			day = &out.Last7DaysActivity[idx]
		}
		switch t.Type {
		case model.TxDeposit:
			out.TotalDeposits += t.Amount
			if day != nil {
				day.Deposits += t.Amount
			}
		case model.TxPayment:
			out.TotalPayments += t.Amount
			if day != nil {
				day.Payments += t.Amount
			}
		case model.TxEarning:
			out.TotalEarnings += t.Amount
			if day != nil {
				day.Earnings += t.Amount
			}
		default:
			continue
		}
		apply(t.CreatedAt, t.SignedAmount())
	}

	for _, r := range reqs {
		if r.Status == model.WithdrawalCompleted {
			out.TotalWithdrawals += r.Amount
		}
		apply(r.RequestDate, -r.Amount)
		if at := r.CreditedBackAt(); at != nil {
			apply(*at, r.Amount)
		}
	}

	running := opening
	for i := range out.Last7DaysActivity {
		running += deltas[i]
		out.Last7DaysActivity[i].Balance = running
	}
	return out
}

// bucket returns the day offset of at from windowStart; negative means earlier.
func bucket(at, windowStart time.Time, loc *time.Location) int {
	at = at.In(loc)
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, loc)
	if day.Before(windowStart) {
		return -1
	}
	// calendar days, not 24h durations: DST days differ in length
	for i := 0; i < Days; i++ {
		if day.Equal(windowStart.AddDate(0, 0, i)) {
			return i
		}
	}
	return Days
}
