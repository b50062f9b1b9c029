package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pesapoints/pesapoints-backend/internal/ledger"
	"github.com/pesapoints/pesapoints-backend/internal/transactions"
	"github.com/pesapoints/pesapoints-backend/internal/webhookevents"
	pkgdb "github.com/pesapoints/pesapoints-backend/pkg/db"
	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	"github.com/pesapoints/pesapoints-backend/pkg/enums"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
	"github.com/pesapoints/pesapoints-backend/pkg/metrics"
	"github.com/pesapoints/pesapoints-backend/pkg/mpesa"
	"github.com/pesapoints/pesapoints-backend/pkg/retry"
)

// Amount bounds in provider-native units. Stripe rejects card charges below
// its per-currency minimum, so the card floor is enforced here before the
// provider call; Daraja accepts single-shilling pushes.
const (
	minCardAmount   = 50
	minMobileAmount = 1
)

var cardCurrencies = map[enums.Currency]bool{
	enums.CurrencyUSD: true,
	enums.CurrencyEUR: true,
	enums.CurrencyKES: true,
}

// errEventProcessed aborts a settlement transaction when another execution
// already owns the event marker. It rolls the transaction back and is mapped
// to a duplicate outcome by the caller, never surfaced.
var errEventProcessed = errors.New("event already processed")

type userDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type journalWriter interface {
	Record(ctx context.Context, stage string, err error, details map[string]any)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	TransactionRepo   transactions.Repository
	EventRepo         webhookevents.Repository
	Users             userDirectory
	Ledger            ledger.Service
	Card              CardProvider
	Mobile            MobileMoneyProvider
	TransactionRunner txRunner
	Retry             *retry.Executor
	Journal           journalWriter
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
	MaxAmount         int
}

type Service struct {
	txRepo    transactions.Repository
	eventRepo webhookevents.Repository
	users     userDirectory
	ledger    ledger.Service
	card      CardProvider
	mobile    MobileMoneyProvider
	txRunner  txRunner
	retry     *retry.Executor
	journal   journalWriter
	metrics   *metrics.PaymentMetrics
	logg      *logger.Logger
	maxAmount int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if params.EventRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user directory required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Card == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "card provider required")
	}
	if params.Mobile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mobile money provider required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Retry == nil {
		params.Retry = retry.New()
	}
	if params.Journal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "error journal required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.MaxAmount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "max amount must be positive")
	}
	return &Service{
		txRepo:    params.TransactionRepo,
		eventRepo: params.EventRepo,
		users:     params.Users,
		ledger:    params.Ledger,
		card:      params.Card,
		mobile:    params.Mobile,
		txRunner:  params.TransactionRunner,
		retry:     params.Retry,
		journal:   params.Journal,
		metrics:   params.Metrics,
		logg:      params.Logger,
		maxAmount: params.MaxAmount,
	}, nil
}

type CreatePaymentInput struct {
	UserID   uuid.UUID
	Method   enums.PaymentMethod
	Amount   int
	Currency enums.Currency
	Phone    string
}

type CreatePaymentResult struct {
	Transaction *models.Transaction
	ClientToken string
}

// CreatePayment opens a charge with the provider matching the requested
// method and persists the pending transaction that its completion callback
// will later resolve. The provider call is never retried; a duplicate call
// would charge or prompt the user twice.
func (s *Service) CreatePayment(ctx context.Context, callerID uuid.UUID, input CreatePaymentInput) (*CreatePaymentResult, error) {
	if callerID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot create payments for another user")
	}
	if err := s.validateCharge(input); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, input.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	ref, err := s.openWithProvider(ctx, input)
	if err != nil {
		s.journal.Record(ctx, "provider_charge", err, map[string]any{
			"user_id": input.UserID.String(),
			"method":  input.Method.String(),
			"amount":  input.Amount,
		})
		return nil, err
	}

	txn := &models.Transaction{
		UserID:        input.UserID,
		Type:          enums.TransactionTypeDeposit,
		Method:        input.Method,
		Amount:        input.Amount,
		Currency:      input.Currency,
		PointsToAdd:   input.Amount,
		CorrelationID: ref.CorrelationID,
		Status:        enums.TransactionStatusPending,
	}
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.txRepo.Create(ctx, txn)
	})
	if err != nil {
		// The provider-side charge now exists without a local row. The
		// settlement path journals the resulting orphan callback too, so both
		// ends of the gap are auditable.
		s.journal.Record(ctx, "create_payment_persist", err, map[string]any{
			"user_id":        input.UserID.String(),
			"method":         input.Method.String(),
			"correlation_id": ref.CorrelationID,
		})
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist pending transaction")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"correlation_id": ref.CorrelationID,
	})
	s.logg.Info(ctx, "payment created")
	return &CreatePaymentResult{Transaction: txn, ClientToken: ref.ClientToken}, nil
}

func (s *Service) validateCharge(input CreatePaymentInput) error {
	if !input.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	if !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Amount > s.maxAmount {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount exceeds maximum of %d", s.maxAmount))
	}
	switch input.Method {
	case enums.PaymentMethodCard:
		if !cardCurrencies[input.Currency] {
			return pkgerrors.New(pkgerrors.CodeValidation, "currency not supported for card payments")
		}
		if input.Amount < minCardAmount {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("card payments require a minimum amount of %d", minCardAmount))
		}
	case enums.PaymentMethodMobileMoney:
		if input.Currency != enums.CurrencyKES {
			return pkgerrors.New(pkgerrors.CodeValidation, "mobile money payments are KES only")
		}
		if input.Amount < minMobileAmount {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
		}
		if !mpesa.ValidPhone(input.Phone) {
			return pkgerrors.New(pkgerrors.CodeValidation, "phone must be in international format, e.g. 254712345678")
		}
	}
	return nil
}

func (s *Service) openWithProvider(ctx context.Context, input CreatePaymentInput) (*ProviderRef, error) {
	charge := ProviderChargeInput{
		UserID:    input.UserID,
		Amount:    input.Amount,
		Currency:  input.Currency,
		Phone:     input.Phone,
		Reference: input.UserID.String(),
	}
	start := time.Now()
	var (
		ref *ProviderRef
		err error
	)
	switch input.Method {
	case enums.PaymentMethodCard:
		ref, err = s.card.CreateIntent(ctx, charge)
	case enums.PaymentMethodMobileMoney:
		ref, err = s.mobile.RequestPush(ctx, charge)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	s.metrics.ObserveProviderCall(input.Method.Provider(), time.Since(start))
	if err != nil {
		return nil, err
	}
	if ref == nil || ref.CorrelationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider returned no correlation id")
	}
	return ref, nil
}

// HandleStripeEvent settles payment-intent outcomes. Unrecognized event types
// are acknowledged without effect so Stripe does not redeliver them.
func (s *Service) HandleStripeEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
	default:
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	in := settleInput{
		Method:        enums.PaymentMethodCard,
		CorrelationID: intent.ID,
		EventType:     string(event.Type),
		Success:       event.Type == stripe.EventTypePaymentIntentSucceeded,
	}
	if !in.Success {
		in.FailureReason = "card payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			in.FailureReason = intent.LastPaymentError.Msg
		}
	}
	_, err := s.settle(ctx, in)
	return err
}

// HandleMpesaCallback settles the outcome of one STK push.
func (s *Service) HandleMpesaCallback(ctx context.Context, cb mpesa.STKCallback) error {
	if cb.CheckoutRequestID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout request id missing")
	}

	in := settleInput{
		Method:        enums.PaymentMethodMobileMoney,
		CorrelationID: cb.CheckoutRequestID,
		EventType:     "stk_callback",
		Success:       cb.Succeeded(),
	}
	if in.Success {
		if amount, err := cb.Amount(); err == nil {
			in.Amount = &amount
		}
		in.Receipt = cb.Receipt()
	} else {
		in.FailureReason = cb.ResultDesc
	}
	_, err := s.settle(ctx, in)
	return err
}

type settleInput struct {
	Method        enums.PaymentMethod
	CorrelationID string
	EventType     string
	Success       bool
	FailureReason string
	Amount        *int
	Receipt       string
}

type settleOutcome struct {
	Duplicate     bool
	CreditApplied bool
}

// settle applies one provider outcome exactly once. The marker insert, the
// balance credit, and the terminal transition commit or roll back together;
// the marker's primary key is the atomic gate that decides which of two
// racing executions wins. The loser's whole transaction rolls back, so it
// leaves no partial effects.
func (s *Service) settle(ctx context.Context, in settleInput) (*settleOutcome, error) {
	provider := in.Method.Provider()
	eventID := fmt.Sprintf("%s_%s", provider, in.CorrelationID)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       eventID,
		"correlation_id": in.CorrelationID,
	})

	processed, err := s.eventRepo.Exists(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check processed event marker")
	}
	if processed {
		s.metrics.IncDuplicateEvent(provider)
		s.logg.Info(ctx, "duplicate provider event suppressed")
		return &settleOutcome{Duplicate: true}, nil
	}

	txn, err := s.txRepo.FindByCorrelationID(ctx, in.Method, in.CorrelationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.journal.Record(ctx, "settlement_lookup", err, map[string]any{
				"event_id":       eventID,
				"correlation_id": in.CorrelationID,
				"event_type":     in.EventType,
			})
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no transaction for correlation id")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction by correlation id")
	}

	if in.Success && txn.Status == enums.TransactionStatusFailed {
		// The provider reports success for a transaction we already failed.
		// Crediting now would contradict the terminal state, so this only
		// goes to the journal for an operator to resolve.
		s.journal.Record(ctx, "settlement_conflict", nil, map[string]any{
			"event_id":       eventID,
			"transaction_id": txn.ID.String(),
			"event_type":     in.EventType,
		})
		s.logg.Warn(ctx, "success event for failed transaction ignored")
		return &settleOutcome{Duplicate: true}, nil
	}
	if in.Amount != nil && *in.Amount != txn.Amount {
		s.journal.Record(ctx, "settlement_amount_mismatch", nil, map[string]any{
			"event_id":        eventID,
			"transaction_id":  txn.ID.String(),
			"expected_amount": txn.Amount,
			"reported_amount": *in.Amount,
		})
		s.logg.Warn(ctx, "provider reported amount differs from transaction")
	}

	outcome, err := s.settleDurably(ctx, eventID, in, txn)
	if err != nil {
		s.journal.Record(ctx, "settlement_persist", err, map[string]any{
			"event_id":       eventID,
			"transaction_id": txn.ID.String(),
			"event_type":     in.EventType,
		})
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist settlement")
	}
	if outcome.Duplicate {
		s.metrics.IncDuplicateEvent(provider)
		return outcome, nil
	}
	if in.Success {
		s.metrics.IncWebhookEvent(provider, "completed")
		if outcome.CreditApplied {
			s.metrics.IncCreditApplied(provider)
		}
		s.logg.Info(ctx, "payment settled")
	} else {
		s.metrics.IncWebhookEvent(provider, "failed")
		s.logg.Info(ctx, "payment marked failed")
	}
	return outcome, nil
}

func (s *Service) settleDurably(ctx context.Context, eventID string, in settleInput, txn *models.Transaction) (*settleOutcome, error) {
	outcome := &settleOutcome{}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		outcome.CreditApplied = false
		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.eventRepo.WithTx(tx).Create(ctx, eventID, in.EventType); err != nil {
				if pkgdb.IsUniqueViolation(err, "webhook_events_pkey") {
					return errEventProcessed
				}
				return err
			}
			if !in.Success {
				reason := in.FailureReason
				if reason == "" {
					reason = "payment failed"
				}
				_, err := s.txRepo.WithTx(tx).TransitionTerminal(ctx, txn.ID, enums.TransactionStatusFailed, &reason)
				return err
			}

			metadata, err := json.Marshal(map[string]any{
				"correlation_id": in.CorrelationID,
				"method":         in.Method.String(),
				"event_type":     in.EventType,
				"receipt":        in.Receipt,
			})
			if err != nil {
				return err
			}
			result, err := s.ledger.ApplyCredit(ctx, tx, ledger.ApplyCreditInput{
				TransactionID: txn.ID,
				UserID:        txn.UserID,
				Points:        txn.PointsToAdd,
				Reason:        creditReason(txn),
				Metadata:      metadata,
			})
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
					return errEventProcessed
				}
				return err
			}
			if _, err := s.txRepo.WithTx(tx).TransitionTerminal(ctx, txn.ID, enums.TransactionStatusCompleted, nil); err != nil {
				return err
			}
			outcome.CreditApplied = !result.AlreadyApplied
			return nil
		})
		if errors.Is(err, errEventProcessed) {
			outcome.Duplicate = true
			outcome.CreditApplied = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func creditReason(txn *models.Transaction) string {
	return fmt.Sprintf("%s_%s", txn.Type.String(), txn.Method.Provider())
}

// GetTransactionStatus returns the caller's transaction and, when the row is
// terminal-completed without a processed event marker, repairs the missed
// credit through the same settlement path the webhook would have taken.
func (s *Service) GetTransactionStatus(ctx context.Context, callerID, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn.UserID != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction belongs to another user")
	}

	if txn.Status == enums.TransactionStatusCompleted {
		if err := s.reconcile(ctx, txn); err != nil {
			// The caller still gets the stored status; recovery reruns on the
			// next poll.
			s.logg.Error(ctx, "fallback reconciliation failed", err)
		}
	}
	return txn, nil
}

// reconcile covers the webhook-never-arrived case: the transaction reached
// completed through an out-of-band path but no marker proves the credit ran.
// It reuses the webhook's settlement, so both paths share one idempotency
// key space and a late-arriving webhook cannot double-credit.
func (s *Service) reconcile(ctx context.Context, txn *models.Transaction) error {
	eventID := fmt.Sprintf("%s_%s", txn.Method.Provider(), txn.CorrelationID)
	processed, err := s.eventRepo.Exists(ctx, eventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check processed event marker")
	}
	if processed {
		return nil
	}

	s.logg.Warn(s.logg.WithField(ctx, "transaction_id", txn.ID.String()), "completed transaction without processed marker, reconciling")
	outcome, err := s.settle(ctx, settleInput{
		Method:        txn.Method,
		CorrelationID: txn.CorrelationID,
		EventType:     "fallback_reconciliation",
		Success:       true,
	})
	if err != nil {
		return err
	}
	if !outcome.Duplicate {
		s.metrics.IncReconciliation()
	}
	return nil
}

// ListUserTransactions returns the caller's transactions newest first,
// optionally filtered by type.
func (s *Service) ListUserTransactions(ctx context.Context, userID uuid.UUID, txType *enums.TransactionType, limit int) ([]models.Transaction, error) {
	if txType != nil && !txType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported transaction type")
	}
	list, err := s.txRepo.ListByUser(ctx, transactions.ListQuery{
		UserID: userID,
		Type:   txType,
		Limit:  limit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return list, nil
}
