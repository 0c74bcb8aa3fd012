package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Donation is the pledge a payment settles. Recurring donations keep their
// execution bookkeeping here; NextPaymentDate is stored but never computed.
type Donation struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	DonorID         string          `gorm:"size:64;not null;index" json:"donor_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	Status          string          `gorm:"size:20;not null;index" json:"status"` // pending, completed, failed
	IsRecurring     bool            `gorm:"not null;default:false" json:"is_recurring"`
	ExecutionCount  int             `gorm:"not null;default:0" json:"execution_count"`
	LastExecutedAt  *time.Time      `json:"last_executed_at"`
	NextPaymentDate *time.Time      `json:"next_payment_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Donation) TableName() string {
	return "donations"
}
