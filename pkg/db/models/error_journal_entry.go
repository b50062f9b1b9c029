package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ErrorJournalEntry captures a payment-path failure for operator inspection.
// Each entry gets a fresh random id so failures stay auditable even when the
// primary response is lost.
type ErrorJournalEntry struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Stage     string          `gorm:"column:stage;not null"`
	Message   string          `gorm:"column:message;not null"`
	Context   json.RawMessage `gorm:"column:context;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the historical collection name.
func (ErrorJournalEntry) TableName() string {
	return "error_journal"
}
