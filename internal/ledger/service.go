package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/pesapoints/pesapoints-backend/pkg/db"
	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
)

// Service applies balance credits exactly once per transaction.
type Service interface {
	ApplyCredit(ctx context.Context, tx *gorm.DB, input ApplyCreditInput) (*CreditResult, error)
}

// ApplyCreditInput identifies one credit. Reason is provider-scoped
// ("deposit_stripe", "deposit_mpesa") and combines with the transaction id
// into a deterministic history entry id.
type ApplyCreditInput struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	Points        int
	Reason        string
	Metadata      json.RawMessage
}

// CreditResult snapshots the balance around the credit. AlreadyApplied is set
// when a prior attempt did the work and this call changed nothing.
type CreditResult struct {
	PreviousPoints int
	NewPoints      int
	AlreadyApplied bool
}

type service struct {
	repo         Repository
	mirrorWallet bool
}

// NewService wires a ledger service with the provided repository. When
// mirrorWallet is set, credits also bump the user's wallet amount.
func NewService(repo Repository, mirrorWallet bool) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, mirrorWallet: mirrorWallet}, nil
}

// HistoryID derives the deterministic points-history id for a credit.
func HistoryID(reason string, transactionID uuid.UUID) string {
	return fmt.Sprintf("%s_%s", reason, transactionID)
}

// ApplyCredit mutates the balance inside the caller's transaction. The user
// row lock serializes concurrent settlements per user; the deterministic
// history id is the redundant net that catches anything the lock cannot see
// (a racing commit from another process surfaces as a unique violation, which
// callers map to "already applied").
func (s *service) ApplyCredit(ctx context.Context, tx *gorm.DB, input ApplyCreditInput) (*CreditResult, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	repo := s.repo.WithTx(tx)

	user, err := repo.LockUser(ctx, input.UserID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// The user existed when the payment was created; absence here
			// means the store is corrupt and must not be papered over.
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user missing at credit time")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user")
	}

	historyID := HistoryID(input.Reason, input.TransactionID)

	existing, err := repo.FindHistory(ctx, historyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load history entry")
	}
	if existing != nil {
		return &CreditResult{
			PreviousPoints: existing.PreviousPoints,
			NewPoints:      existing.NewPoints,
			AlreadyApplied: true,
		}, nil
	}

	wallet := 0
	if s.mirrorWallet {
		wallet = input.Points
	}
	if err := repo.IncrementBalance(ctx, input.UserID, input.Points, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment balance")
	}

	entry := &models.PointsHistory{
		ID:             historyID,
		UserID:         input.UserID,
		Points:         input.Points,
		Reason:         input.Reason,
		Metadata:       input.Metadata,
		PreviousPoints: user.Points,
		NewPoints:      user.Points + input.Points,
	}
	if err := repo.CreateHistory(ctx, entry); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "credit already applied")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write history entry")
	}

	return &CreditResult{
		PreviousPoints: entry.PreviousPoints,
		NewPoints:      entry.NewPoints,
	}, nil
}
