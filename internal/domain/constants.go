package domain

import "paycore/pkg/payment"

// Status is the payment lifecycle status shared with the adapters.
type Status = payment.Status

const (
	RoleDonor = "DONOR"
	RoleAdmin = "ADMIN"
)

// Sources name who drove a status change. They are recorded on history rows
// and attempts.
const (
	SourceInitialize     = "initialize"
	SourceWebhook        = "webhook"
	SourceUserVerify     = "user_verify"
	SourceReconciliation = "reconciliation"
	SourceAdmin          = "admin"
)

const (
	AttemptInitialize = "initialize"
	AttemptVerify     = "verify"
	AttemptRefund     = "refund"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

const (
	DonationStatusPending   = "pending"
	DonationStatusCompleted = "completed"
	DonationStatusFailed    = "failed"
)

// Donor levels by lifetime total donated.
const (
	DonorLevelBronze = "bronze"
	DonorLevelSilver = "silver"
	DonorLevelGold   = "gold"
)
