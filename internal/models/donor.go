package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Donor struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	TotalDonated   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_donated"`
	DonationCount  int             `gorm:"not null;default:0" json:"donation_count"`
	Level          string          `gorm:"size:20;not null;default:'bronze'" json:"level"`
	LastDonationAt *time.Time      `json:"last_donation_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Donor) TableName() string {
	return "donors"
}
