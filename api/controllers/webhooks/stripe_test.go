package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/pesapoints/pesapoints-backend/pkg/logger"
)

type stubStripeService struct {
	events []*stripe.Event
	err    error
}

func (s *stubStripeService) HandleStripeEvent(ctx context.Context, event *stripe.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type stubGuard struct {
	seen     map[string]bool
	deleted  []string
	checkErr error
}

func newStubGuard() *stubGuard {
	return &stubGuard{seen: map[string]bool{}}
}

func (s *stubGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if s.checkErr != nil {
		return false, s.checkErr
	}
	if s.seen[eventID] {
		return true, nil
	}
	s.seen[eventID] = true
	return false, nil
}

func (s *stubGuard) Delete(ctx context.Context, eventID string) error {
	s.deleted = append(s.deleted, eventID)
	delete(s.seen, eventID)
	return nil
}

type stubStripeClient struct{}

func (stubStripeClient) SigningSecret() string { return "whsec_test" }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

const stripeEventBody = `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`

func postStripe(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestStripeWebhookMissingSignatureRejectedInProduction(t *testing.T) {
	svc := &stubStripeService{}
	handler := StripeWebhook(svc, stubStripeClient{}, newStubGuard(), StripeConfig{Production: true}, testLogger())

	rec := postStripe(t, handler, stripeEventBody)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Fatalf("unsigned payload must not reach the service")
	}
}

func TestStripeWebhookUnverifiedDowngrade(t *testing.T) {
	svc := &stubStripeService{}
	guard := newStubGuard()
	handler := StripeWebhook(svc, stubStripeClient{}, guard, StripeConfig{AllowUnverified: true}, testLogger())

	rec := postStripe(t, handler, stripeEventBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.events) != 1 || svc.events[0].ID != "evt_1" {
		t.Fatalf("expected event forwarded to the service, got %+v", svc.events)
	}
	if !guard.seen["evt_1"] {
		t.Fatalf("expected event marked in the guard")
	}
}

func TestStripeWebhookRedeliveryShedByGuard(t *testing.T) {
	svc := &stubStripeService{}
	guard := newStubGuard()
	handler := StripeWebhook(svc, stubStripeClient{}, guard, StripeConfig{AllowUnverified: true}, testLogger())

	postStripe(t, handler, stripeEventBody)
	rec := postStripe(t, handler, stripeEventBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery should be acknowledged, got %d", rec.Code)
	}
	if len(svc.events) != 1 {
		t.Fatalf("redelivery must not reach the service twice")
	}
}

func TestStripeWebhookReleasesGuardOnServiceError(t *testing.T) {
	svc := &stubStripeService{err: fmt.Errorf("transient store failure")}
	guard := newStubGuard()
	handler := StripeWebhook(svc, stubStripeClient{}, guard, StripeConfig{AllowUnverified: true}, testLogger())

	rec := postStripe(t, handler, stripeEventBody)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(guard.deleted) != 1 || guard.deleted[0] != "evt_1" {
		t.Fatalf("expected guard released for redelivery, got %+v", guard.deleted)
	}
}

func TestStripeWebhookRejectsInvalidJSON(t *testing.T) {
	handler := StripeWebhook(&stubStripeService{}, stubStripeClient{}, newStubGuard(), StripeConfig{AllowUnverified: true}, testLogger())

	rec := postStripe(t, handler, "not json")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
