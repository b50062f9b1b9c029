package transactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	"github.com/pesapoints/pesapoints-backend/pkg/enums"
)

// Repository handles transaction persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByCorrelationID(ctx context.Context, method enums.PaymentMethod, correlationID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, params ListQuery) ([]models.Transaction, error)
	TransitionTerminal(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, errMsg *string) (bool, error)
}

// ListQuery configures transaction list queries.
type ListQuery struct {
	UserID uuid.UUID
	Type   *enums.TransactionType
	Limit  int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindByCorrelationID resolves the transaction a provider callback refers to.
// The lookup rides the (method, correlation_id) unique index.
func (r *repository) FindByCorrelationID(ctx context.Context, method enums.PaymentMethod, correlationID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("method = ? AND correlation_id = ?", method, correlationID).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByUser(ctx context.Context, params ListQuery) ([]models.Transaction, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("user_id = ?", params.UserID).
		Order("created_at DESC").
		Limit(limit)
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	var txns []models.Transaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// TransitionTerminal conditionally moves a pending transaction to a terminal
// status. It reports false without error when the row is already terminal, so
// replayed callbacks are a safe no-op. Terminal rows are never mutated.
func (r *repository) TransitionTerminal(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, errMsg *string) (bool, error) {
	if !status.IsTerminal() {
		return false, gorm.ErrInvalidValue
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
