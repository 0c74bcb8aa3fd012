package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentHistory struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	PaymentID  string         `gorm:"size:36;not null;index" json:"payment_id"`
	Action     string         `gorm:"size:32;not null" json:"action"`
	Source     string         `gorm:"size:20" json:"source"`
	FromStatus string         `gorm:"size:20" json:"from_status"`
	ToStatus   string         `gorm:"size:20" json:"to_status"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}
