package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
)

// Repository reads user accounts. Balance writes go through the ledger,
// which owns the row locking.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
