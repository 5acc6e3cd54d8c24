// Package fee computes withdrawal fees.
package fee

import (
	"fmt"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// Calculator maps (amount, method) to a fee. It holds no state beyond its rates.
type Calculator struct {
	mobileMoney  decimal.Decimal
	bankTransfer decimal.Decimal
}

// NewCalculator parses percentage rates such as "0.02".
func NewCalculator(mobileMoneyRate, bankTransferRate string) (*Calculator, error) {
	mm, err := decimal.NewFromString(mobileMoneyRate)
	if err != nil {
		return nil, fmt.Errorf("mobile money rate: %w", err)
	}
	bt, err := decimal.NewFromString(bankTransferRate)
	if err != nil {
		return nil, fmt.Errorf("bank transfer rate: %w", err)
	}
	if mm.IsNegative() || mm.GreaterThanOrEqual(decimal.NewFromInt(1)) ||
		bt.IsNegative() || bt.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rates must be in [0, 1): %s, %s", mm, bt)
	}
	return &Calculator{mobileMoney: mm, bankTransfer: bt}, nil
}

// Rate returns the percentage applied to method.
func (c *Calculator) Rate(method model.WithdrawalMethod) decimal.Decimal {
	if method == model.MethodBankTransfer {
		return c.bankTransfer
	}
	return c.mobileMoney
}

// Fee returns amount*rate rounded half away from zero to the minor unit.
// The result never exceeds amount, so amount-fee is never negative.
func (c *Calculator) Fee(amount int64, method model.WithdrawalMethod) int64 {
	if amount <= 0 {
		return 0
	}
	f := decimal.NewFromInt(amount).Mul(c.Rate(method)).Round(0).IntPart()
	if f > amount {
		return amount
	}
	return f
}

// Split returns fee and net amount for a gross amount.
func (c *Calculator) Split(amount int64, method model.WithdrawalMethod) (fee, net int64) {
	fee = c.Fee(amount, method)
	return fee, amount - fee
}
