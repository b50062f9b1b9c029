package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pesapoints/pesapoints-backend/pkg/enums"
)

// User holds the point balance and mirrored wallet for an account holder.
// Points and wallet amount are mutated only by the ledger applier.
type User struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email           string         `gorm:"column:email;not null;uniqueIndex"`
	Phone           string         `gorm:"column:phone"`
	Points          int            `gorm:"column:points;not null;default:0"`
	WalletAmount    int            `gorm:"column:wallet_amount;not null;default:0"`
	WalletCurrency  enums.Currency `gorm:"column:wallet_currency;not null;default:'KES'"`
	PointsConverted bool           `gorm:"column:points_converted;not null;default:false"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
