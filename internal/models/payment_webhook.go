package models

import (
	"encoding/json"
	"time"

	"paycore/pkg/payment"

	"gorm.io/datatypes"
)

// PaymentWebhook is the audit row of one provider event. (provider, event_id)
// is unique; redeliveries bump DeliveryCount.
type PaymentWebhook struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	PaymentID       string           `gorm:"size:36;not null;index" json:"payment_id"`
	Provider        payment.Provider `gorm:"size:20;not null;uniqueIndex:idx_webhook_provider_event,priority:1" json:"provider"`
	EventType       string           `gorm:"size:64" json:"event_type"`
	EventID         string           `gorm:"size:191;not null;uniqueIndex:idx_webhook_provider_event,priority:2" json:"event_id"`
	Payload         datatypes.JSON   `json:"payload"`
	Verified        bool             `gorm:"not null;default:false" json:"verified"`
	ReceivedAt      time.Time        `gorm:"not null" json:"received_at"`
	DeliveryCount   int              `gorm:"not null;default:1" json:"delivery_count"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	ProcessingError string           `gorm:"size:512" json:"processing_error,omitempty"`
}

func (PaymentWebhook) TableName() string {
	return "payment_webhooks"
}

// PayloadJSON stores body as-is when it is JSON and wraps anything else
// (form posts) as {"raw": "..."}.
func PayloadJSON(body []byte) datatypes.JSON {
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	b, _ := json.Marshal(map[string]string{"raw": string(body)})
	return datatypes.JSON(b)
}
