package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PointsHistory is an immutable record of one applied balance delta. The id is
// deterministic ("<reason>_<transaction id>") so a second write of the same
// entry fails on the primary key and is treated as already applied.
type PointsHistory struct {
	ID             string          `gorm:"column:id;primaryKey"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	Points         int             `gorm:"column:points;not null"`
	Reason         string          `gorm:"column:reason;not null"`
	Metadata       json.RawMessage `gorm:"column:metadata;type:jsonb"`
	PreviousPoints int             `gorm:"column:previous_points;not null"`
	NewPoints      int             `gorm:"column:new_points;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the historical collection name.
func (PointsHistory) TableName() string {
	return "points_history"
}
