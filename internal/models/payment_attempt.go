package models

import "time"

// PaymentAttempt records one provider call made for a payment.
type PaymentAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PaymentID string    `gorm:"size:36;not null;index" json:"payment_id"`
	Kind      string    `gorm:"size:20;not null" json:"kind"` // initialize, verify, refund
	Source    string    `gorm:"size:20" json:"source"`
	AttemptNo int       `gorm:"not null;default:1" json:"attempt_no"`
	Outcome   string    `gorm:"size:10;not null" json:"outcome"`
	Status    string    `gorm:"size:20" json:"status,omitempty"`
	Error     string    `gorm:"size:512" json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}
