package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pesapoints/pesapoints-backend/api/responses"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
	"github.com/pesapoints/pesapoints-backend/pkg/mpesa"
)

type MpesaWebhookService interface {
	HandleMpesaCallback(ctx context.Context, cb mpesa.STKCallback) error
}

type mpesaClient interface {
	CallbackToken() string
}

// MpesaConfig carries the callback-facing toggles.
type MpesaConfig struct {
	AllowUnverified bool
	Production      bool
}

// MpesaCallback settles Daraja STK push results. Daraja does not sign its
// callbacks, so the route carries a shared token instead; a mismatch is
// treated like a signature failure.
func MpesaCallback(svc MpesaWebhookService, client mpesaClient, guard webhookGuard, cfg MpesaConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "mpesa client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		if err := checkCallbackToken(r, client.CallbackToken(), cfg); err != nil {
			if cfg.AllowUnverified && !cfg.Production {
				if logg != nil {
					logg.Warn(ctx, "mpesa callback accepted without token verification")
				}
			} else {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var envelope mpesa.CallbackEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode mpesa callback"))
			return
		}
		cb := envelope.Body.STKCallback
		if cb.CheckoutRequestID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id missing"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, cb.CheckoutRequestID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		if err := svc.HandleMpesaCallback(ctx, cb); err != nil {
			_ = guard.Delete(ctx, cb.CheckoutRequestID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("mpesa callback %s processed", cb.CheckoutRequestID))
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func checkCallbackToken(r *http.Request, expected string, cfg MpesaConfig) error {
	if expected == "" {
		if cfg.Production {
			return pkgerrors.New(pkgerrors.CodeInternal, "mpesa callback token not configured")
		}
		return nil
	}
	got := r.URL.Query().Get("token")
	if got == "" {
		got = r.Header.Get("X-Callback-Token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "callback token mismatch")
	}
	return nil
}
