// Package fees computes processing and platform fees for a payment amount.
// Calculations are pure: the same schedule, amount, currency and method always
// produce the same Breakdown.
package fees

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("fees: amount must not be negative")
	ErrNoSchedule     = errors.New("fees: no schedule for provider")
)

var hundred = decimal.NewFromInt(100)

// zeroDecimal lists currencies accounted in whole units.
var zeroDecimal = map[string]bool{
	"XOF": true,
	"XAF": true,
}

// MinorUnits returns the number of decimal places the currency is accounted in.
func MinorUnits(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// Round rounds amount half-up to the currency's smallest accounted unit.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// Schedule is a provider fee schedule: a percentage plus an optional fixed
// fee per currency. MethodPercent overrides Percent for a payment method.
type Schedule struct {
	Percent         decimal.Decimal
	MethodPercent   map[string]decimal.Decimal
	Fixed           map[string]decimal.Decimal
	PlatformPercent decimal.Decimal
}

// Breakdown is the persisted result of a fee calculation.
type Breakdown struct {
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
}

// Calculate applies the schedule to amount.
func (s Schedule) Calculate(amount decimal.Decimal, currency, method string) (Breakdown, error) {
	if amount.IsNegative() {
		return Breakdown{}, ErrNegativeAmount
	}
	currency = strings.ToUpper(currency)

	pct := s.Percent
	if p, ok := s.MethodPercent[method]; ok {
		pct = p
	}
	processing := amount.Mul(pct).Div(hundred)
	if fixed, ok := s.Fixed[currency]; ok && amount.IsPositive() {
		processing = processing.Add(fixed)
	}
	processing = Round(processing, currency)
	platform := Round(amount.Mul(s.PlatformPercent).Div(hundred), currency)

	net := Round(amount, currency).Sub(processing).Sub(platform)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return Breakdown{
		ProcessingFee: processing,
		PlatformFee:   platform,
		NetAmount:     net,
		Currency:      currency,
	}, nil
}

// Table maps provider names to schedules.
type Table map[string]Schedule

// For returns the schedule registered for provider.
func (t Table) For(provider string) (Schedule, error) {
	s, ok := t[provider]
	if !ok {
		return Schedule{}, fmt.Errorf("%w %q", ErrNoSchedule, provider)
	}
	return s, nil
}

// DefaultTable is the schedule set used when configuration does not override it.
func DefaultTable() Table {
	pct := decimal.RequireFromString
	return Table{
		"stripe": {
			Percent: pct("2.9"),
			Fixed: map[string]decimal.Decimal{
				"USD": pct("0.30"),
				"EUR": pct("0.25"),
				"XOF": pct("100"),
				"XAF": pct("100"),
			},
		},
		"cinetpay": {
			Percent:       pct("3.5"),
			MethodPercent: map[string]decimal.Decimal{"card": pct("4.5")},
		},
		"moneyfusion": {Percent: pct("3")},
		"paymenthub": {
			Percent:       pct("2.5"),
			MethodPercent: map[string]decimal.Decimal{"card": pct("3.2")},
		},
		"mpesa":   {Percent: pct("1.5")},
		"swapuzi": {Percent: pct("1")},
		"stub":    {},
	}
}
