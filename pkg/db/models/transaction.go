package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pesapoints/pesapoints-backend/pkg/enums"
)

// Transaction records one payment attempt. CorrelationID is the
// provider-assigned id (Stripe payment-intent id, Daraja CheckoutRequestID)
// and is the only externally supplied key a callback can use to find the row;
// the (method, correlation_id) unique index keeps that lookup indexed.
type Transaction struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Type          enums.TransactionType   `gorm:"column:type;not null;default:'deposit'"`
	Method        enums.PaymentMethod     `gorm:"column:method;not null;uniqueIndex:idx_transactions_method_correlation,priority:1"`
	Amount        int                     `gorm:"column:amount;not null"`
	Currency      enums.Currency          `gorm:"column:currency;not null"`
	PointsToAdd   int                     `gorm:"column:points_to_add;not null"`
	CorrelationID string                  `gorm:"column:correlation_id;not null;uniqueIndex:idx_transactions_method_correlation,priority:2"`
	Status        enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	Error         *string                 `gorm:"column:error"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
