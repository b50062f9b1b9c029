package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pesapoints/pesapoints-backend/pkg/mpesa"
)

type stubMpesaService struct {
	callbacks []mpesa.STKCallback
	err       error
}

func (s *stubMpesaService) HandleMpesaCallback(ctx context.Context, cb mpesa.STKCallback) error {
	if s.err != nil {
		return s.err
	}
	s.callbacks = append(s.callbacks, cb)
	return nil
}

type stubMpesaClient struct {
	token string
}

func (s stubMpesaClient) CallbackToken() string { return s.token }

const mpesaCallbackBody = `{"Body":{"stkCallback":{"MerchantRequestID":"mr_1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"Success","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":"QK12XYZ"}]}}}}`

func postMpesa(t *testing.T, handler http.HandlerFunc, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestMpesaCallbackWithQueryToken(t *testing.T) {
	svc := &stubMpesaService{}
	handler := MpesaCallback(svc, stubMpesaClient{token: "cbtoken"}, newStubGuard(), MpesaConfig{Production: true}, testLogger())

	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa?token=cbtoken", mpesaCallbackBody, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.callbacks) != 1 || svc.callbacks[0].CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("expected callback forwarded, got %+v", svc.callbacks)
	}
}

func TestMpesaCallbackWithHeaderToken(t *testing.T) {
	svc := &stubMpesaService{}
	handler := MpesaCallback(svc, stubMpesaClient{token: "cbtoken"}, newStubGuard(), MpesaConfig{Production: true}, testLogger())

	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa", mpesaCallbackBody, map[string]string{"X-Callback-Token": "cbtoken"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMpesaCallbackTokenMismatch(t *testing.T) {
	svc := &stubMpesaService{}
	handler := MpesaCallback(svc, stubMpesaClient{token: "cbtoken"}, newStubGuard(), MpesaConfig{Production: true}, testLogger())

	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa?token=wrong", mpesaCallbackBody, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.callbacks) != 0 {
		t.Fatalf("mismatched token must not reach the service")
	}
}

func TestMpesaCallbackUnconfiguredTokenRejectedInProduction(t *testing.T) {
	handler := MpesaCallback(&stubMpesaService{}, stubMpesaClient{}, newStubGuard(), MpesaConfig{Production: true}, testLogger())

	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa", mpesaCallbackBody, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMpesaCallbackRedeliveryShedByGuard(t *testing.T) {
	svc := &stubMpesaService{}
	guard := newStubGuard()
	handler := MpesaCallback(svc, stubMpesaClient{token: "cbtoken"}, guard, MpesaConfig{Production: true}, testLogger())

	postMpesa(t, handler, "/api/v1/webhooks/mpesa?token=cbtoken", mpesaCallbackBody, nil)
	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa?token=cbtoken", mpesaCallbackBody, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery should be acknowledged, got %d", rec.Code)
	}
	if len(svc.callbacks) != 1 {
		t.Fatalf("redelivery must not reach the service twice")
	}
}

func TestMpesaCallbackMissingCheckoutID(t *testing.T) {
	handler := MpesaCallback(&stubMpesaService{}, stubMpesaClient{token: "cbtoken"}, newStubGuard(), MpesaConfig{Production: true}, testLogger())

	rec := postMpesa(t, handler, "/api/v1/webhooks/mpesa?token=cbtoken", `{"Body":{"stkCallback":{"ResultCode":0}}}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
