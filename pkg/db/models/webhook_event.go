package models

import "time"

// WebhookEvent marks a provider event id as durably applied. The row's
// existence is the idempotency barrier for the credit it guards; the primary
// key makes the check-and-set atomic at the store.
type WebhookEvent struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	Type      string    `gorm:"column:type;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the historical collection name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
