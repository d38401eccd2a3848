package service

import (
	"time"

	"github.com/shopspring/decimal"
)

var secondsPerDay = decimal.NewFromInt(24 * 60 * 60)

// DefaultPlatformRate is the platform's cut of every parking fee.
var DefaultPlatformRate = decimal.RequireFromString("0.15")

// Fee is the outcome of pricing one stay.
type Fee struct {
	DurationSeconds int64
	Amount          decimal.Decimal
	PlatformShare   decimal.Decimal
	ClientShare     decimal.Decimal
}

// FeeCalculator prices a stay by continuous proration of a daily rate.
// It holds no state besides the platform rate and is safe to share.
type FeeCalculator struct {
	PlatformRate decimal.Decimal
}

// NewFeeCalculator returns a calculator using rate, or
// DefaultPlatformRate when rate is zero.
func NewFeeCalculator(rate decimal.Decimal) FeeCalculator {
	if rate.IsZero() {
		rate = DefaultPlatformRate
	}
	return FeeCalculator{PlatformRate: rate}
}

// Compute returns the fee for a stay from entry to exit at dailyRate.
//
// The fee is (whole seconds / 86400) * dailyRate rounded half-up to two
// decimals.  The platform share is fee * PlatformRate, rounded the same
// way, and the client share is whatever remains, so the two always add
// up to the fee.
func (f FeeCalculator) Compute(entry, exit time.Time, dailyRate decimal.Decimal) (Fee, error) {
	if exit.Before(entry) {
		return Fee{}, ErrNegativeDuration
	}
	if dailyRate.IsNegative() {
		return Fee{}, invalid("daily_rate", "must not be negative")
	}
	secs := int64(exit.Sub(entry) / time.Second)

	amount := dailyRate.Mul(decimal.NewFromInt(secs)).Div(secondsPerDay).Round(2)
	platform := amount.Mul(f.PlatformRate).Round(2)
	client := amount.Sub(platform)

	if !platform.Add(client).Equal(amount) || client.IsNegative() {
		return Fee{}, ErrShareMismatch
	}
	return Fee{
		DurationSeconds: secs,
		Amount:          amount,
		PlatformShare:   platform,
		ClientShare:     client,
	}, nil
}
