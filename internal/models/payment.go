package models

import (
	"time"

	"paycore/pkg/fees"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
)

// Payment is the ledger's aggregate root. Webhooks, attempts and history are
// append-only children.
type Payment struct {
	ID           string           `gorm:"primaryKey;size:36" json:"id"`
	DonorID      string           `gorm:"size:64;not null;index" json:"donor_id"`
	DonationID   string           `gorm:"size:64;not null;index" json:"donation_id"`
	Amount       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency     payment.Currency `gorm:"size:3;not null" json:"currency"`
	Method       payment.Method   `gorm:"size:20;not null" json:"method"`
	Provider     payment.Provider `gorm:"size:20;not null;index:idx_payments_provider_external,priority:1" json:"provider"`
	Status       payment.Status   `gorm:"size:20;not null;index:idx_payments_status_created,priority:1" json:"status"`
	ProviderData payment.Envelope `gorm:"type:json" json:"-"`
	Fees         Fees             `gorm:"embedded;embeddedPrefix:fee_" json:"fees"`
	Transaction  Transaction      `gorm:"embedded" json:"transaction"`
	Refund       Refund           `gorm:"embedded;embeddedPrefix:refund_" json:"refund"`
	CreatedAt    time.Time        `gorm:"index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`

	// LastReconciledAt is set each time a sweep picks the payment up.
	LastReconciledAt *time.Time `gorm:"index" json:"last_reconciled_at,omitempty"`

	Webhooks []PaymentWebhook `gorm:"foreignKey:PaymentID" json:"-"`
	Attempts []PaymentAttempt `gorm:"foreignKey:PaymentID" json:"-"`
	History  []PaymentHistory `gorm:"foreignKey:PaymentID" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

// Fees are computed once at initialization and never updated.
type Fees struct {
	ProcessingFee decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"processing_fee"`
	PlatformFee   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"platform_fee"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_amount"`
	Currency      string          `gorm:"size:3" json:"currency"`
}

func FeesFrom(b fees.Breakdown) Fees {
	return Fees{
		ProcessingFee: b.ProcessingFee,
		PlatformFee:   b.PlatformFee,
		NetAmount:     b.NetAmount,
		Currency:      b.Currency,
	}
}

type Transaction struct {
	ExternalID    string     `gorm:"size:128;index:idx_payments_provider_external,priority:2" json:"external_id,omitempty"`
	Reference     string     `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	FailureReason string     `gorm:"size:255" json:"failure_reason,omitempty"`
	FailureCode   string     `gorm:"size:64" json:"failure_code,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Refund is empty until a refund is initiated.
type Refund struct {
	Amount      decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"amount"`
	Reason      string              `gorm:"size:255" json:"reason,omitempty"`
	Status      string              `gorm:"size:20" json:"status,omitempty"`
	RefundID    string              `gorm:"size:128" json:"refund_id,omitempty"`
	RequestedAt *time.Time          `json:"requested_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func (r Refund) IsZero() bool { return !r.Amount.Valid }

// Columns maps the refund onto its embedded column names for partial updates.
func (r Refund) Columns() map[string]any {
	return map[string]any{
		"refund_amount":       r.Amount,
		"refund_reason":       r.Reason,
		"refund_status":       r.Status,
		"refund_refund_id":    r.RefundID,
		"refund_requested_at": r.RequestedAt,
		"refund_completed_at": r.CompletedAt,
	}
}
