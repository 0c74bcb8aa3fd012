package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentNotConfirmed     = errors.New("payment not confirmed by provider")
	ErrVerificationUnavailable = errors.New("payment verification unavailable")
	ErrSweepInProgress         = errors.New("reconciliation sweep already running")
	ErrDonationNotFound        = errors.New("donation not found")
	ErrRefundInProgress        = errors.New("payment already has a refund")
)

// ValidationError rejects a request before any provider is called.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func Invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }

// StateConflictError is an illegal transition for the payment's current status.
type StateConflictError struct {
	From Status
	To   Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// ReconciliationError means the retry budget for verifying one payment ran out.
type ReconciliationError struct {
	PaymentID string
	Attempts  int
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile payment %s: gave up after %d attempts: %v", e.PaymentID, e.Attempts, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

type UnsupportedOperationError struct {
	Provider string
	Op       string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Op)
}
