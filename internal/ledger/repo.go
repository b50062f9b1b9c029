package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
)

// Repository covers the two documents a credit touches: the user balance and
// the points history. All methods are expected to run inside the caller's
// transaction via WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	IncrementBalance(ctx context.Context, id uuid.UUID, points, wallet int) error
	FindHistory(ctx context.Context, id string) (*models.PointsHistory, error)
	CreateHistory(ctx context.Context, entry *models.PointsHistory) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) IncrementBalance(ctx context.Context, id uuid.UUID, points, wallet int) error {
	updates := map[string]any{
		"points": gorm.Expr("points + ?", points),
	}
	if wallet != 0 {
		updates["wallet_amount"] = gorm.Expr("wallet_amount + ?", wallet)
	}
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) FindHistory(ctx context.Context, id string) (*models.PointsHistory, error) {
	var entry models.PointsHistory
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) CreateHistory(ctx context.Context, entry *models.PointsHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
