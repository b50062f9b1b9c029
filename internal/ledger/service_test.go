package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
)

// fakeLedgerRepo emulates the storage contract in memory: the mutex stands in
// for the row lock taken at LockUser and released where the real transaction
// would commit (history found, or history written). CreateHistory fails on a
// duplicate id the way the primary key would.
type fakeLedgerRepo struct {
	mu          sync.Mutex
	userMissing bool
	points      int
	wallet      int
	history     map[string]*models.PointsHistory
}

func newFakeLedgerRepo(points int) *fakeLedgerRepo {
	return &fakeLedgerRepo{points: points, history: map[string]*models.PointsHistory{}}
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeLedgerRepo) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	if f.userMissing {
		f.mu.Unlock()
		return nil, gorm.ErrRecordNotFound
	}
	return &models.User{ID: id, Points: f.points, WalletAmount: f.wallet}, nil
}

func (f *fakeLedgerRepo) IncrementBalance(ctx context.Context, id uuid.UUID, points, wallet int) error {
	f.points += points
	f.wallet += wallet
	return nil
}

func (f *fakeLedgerRepo) FindHistory(ctx context.Context, id string) (*models.PointsHistory, error) {
	if entry, ok := f.history[id]; ok {
		f.mu.Unlock()
		return entry, nil
	}
	return nil, nil
}

func (f *fakeLedgerRepo) CreateHistory(ctx context.Context, entry *models.PointsHistory) error {
	defer f.mu.Unlock()
	if _, ok := f.history[entry.ID]; ok {
		return fmt.Errorf("duplicate key value violates unique constraint %q", "points_history_pkey")
	}
	f.history[entry.ID] = entry
	return nil
}

func TestApplyCreditHappyPath(t *testing.T) {
	repo := newFakeLedgerRepo(100)
	svc, err := NewService(repo, true)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	result, err := svc.ApplyCredit(context.Background(), nil, ApplyCreditInput{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Points:        500,
		Reason:        "deposit_stripe",
	})
	if err != nil {
		t.Fatalf("apply credit: %v", err)
	}
	if result.PreviousPoints != 100 || result.NewPoints != 600 {
		t.Fatalf("expected 100 -> 600, got %d -> %d", result.PreviousPoints, result.NewPoints)
	}
	if result.AlreadyApplied {
		t.Fatalf("fresh credit reported as already applied")
	}
	if repo.points != 600 {
		t.Fatalf("expected balance 600, got %d", repo.points)
	}
	if repo.wallet != 500 {
		t.Fatalf("expected wallet mirror 500, got %d", repo.wallet)
	}
	if len(repo.history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(repo.history))
	}
}

func TestApplyCreditWithoutWalletMirror(t *testing.T) {
	repo := newFakeLedgerRepo(0)
	svc, err := NewService(repo, false)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	if _, err := svc.ApplyCredit(context.Background(), nil, ApplyCreditInput{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Points:        75,
		Reason:        "deposit_mpesa",
	}); err != nil {
		t.Fatalf("apply credit: %v", err)
	}
	if repo.points != 75 {
		t.Fatalf("expected balance 75, got %d", repo.points)
	}
	if repo.wallet != 0 {
		t.Fatalf("wallet mutated with mirroring disabled: %d", repo.wallet)
	}
}

func TestApplyCreditIsIdempotent(t *testing.T) {
	repo := newFakeLedgerRepo(0)
	svc, err := NewService(repo, true)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	input := ApplyCreditInput{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Points:        500,
		Reason:        "deposit_stripe",
	}

	first, err := svc.ApplyCredit(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := svc.ApplyCredit(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if !second.AlreadyApplied {
		t.Fatalf("replay not reported as already applied")
	}
	if second.PreviousPoints != first.PreviousPoints || second.NewPoints != first.NewPoints {
		t.Fatalf("replay snapshot differs: first %+v second %+v", first, second)
	}
	if repo.points != 500 {
		t.Fatalf("expected balance 500 after replay, got %d", repo.points)
	}
	if len(repo.history) != 1 {
		t.Fatalf("expected one history entry after replay, got %d", len(repo.history))
	}
}

func TestApplyCreditConcurrentSameTransaction(t *testing.T) {
	const workers = 16

	repo := newFakeLedgerRepo(1000)
	svc, err := NewService(repo, true)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	input := ApplyCreditInput{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Points:        500,
		Reason:        "deposit_mpesa",
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ApplyCredit(context.Background(), nil, input); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			t.Fatalf("unexpected concurrent error: %v", err)
		}
	}
	if repo.points != 1500 {
		t.Fatalf("expected exactly one credit (balance 1500), got %d", repo.points)
	}
	if len(repo.history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(repo.history))
	}
}

func TestApplyCreditMissingUser(t *testing.T) {
	repo := newFakeLedgerRepo(0)
	repo.userMissing = true
	svc, err := NewService(repo, true)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	_, err = svc.ApplyCredit(context.Background(), nil, ApplyCreditInput{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Points:        10,
		Reason:        "deposit_stripe",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyCreditValidatesInput(t *testing.T) {
	svc, err := NewService(newFakeLedgerRepo(0), true)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	cases := []ApplyCreditInput{
		{UserID: uuid.New(), Points: 10, Reason: "deposit_stripe"},
		{TransactionID: uuid.New(), Points: 10, Reason: "deposit_stripe"},
		{TransactionID: uuid.New(), UserID: uuid.New(), Points: 0, Reason: "deposit_stripe"},
		{TransactionID: uuid.New(), UserID: uuid.New(), Points: -5, Reason: "deposit_stripe"},
		{TransactionID: uuid.New(), UserID: uuid.New(), Points: 10},
	}
	for i, input := range cases {
		if _, err := svc.ApplyCredit(context.Background(), nil, input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestHistoryID(t *testing.T) {
	txID := uuid.MustParse("6b1c3f6e-67a4-4f5c-a1de-2417f9e8b111")
	got := HistoryID("deposit_stripe", txID)
	want := "deposit_stripe_" + txID.String()
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
