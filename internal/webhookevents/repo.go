package webhookevents

import (
	"context"

	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
)

// Repository persists processed-event markers. A marker's existence is proof
// the event's effects are durable; the primary key insert is the atomic
// check-and-set the settlement path relies on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, eventID, eventType string) error
	Exists(ctx context.Context, eventID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a marker repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, eventID, eventType string) error {
	marker := &models.WebhookEvent{EventID: eventID, Type: eventType}
	return r.db.WithContext(ctx).Create(marker).Error
}

func (r *repository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
