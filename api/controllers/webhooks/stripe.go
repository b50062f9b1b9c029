package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/pesapoints/pesapoints-backend/api/responses"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
)

type StripeWebhookService interface {
	HandleStripeEvent(ctx context.Context, event *stripe.Event) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeConfig carries the webhook-facing toggles.
type StripeConfig struct {
	// AllowUnverified downgrades a signature failure to a warning and
	// processes the payload anyway. Only honored outside production.
	AllowUnverified bool
	Production      bool
}

// StripeWebhook verifies and settles Stripe payment-intent events.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard webhookGuard, cfg StripeConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, verified, err := verifyStripePayload(payload, r.Header.Get("Stripe-Signature"), client.SigningSecret(), cfg)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !verified && logg != nil {
			logg.Warn(ctx, "stripe webhook accepted without signature verification")
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		if err := svc.HandleStripeEvent(ctx, event); err != nil {
			// Releasing the redis key lets Stripe's redelivery reach the
			// durable marker check instead of being shed here.
			_ = guard.Delete(ctx, event.ID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func verifyStripePayload(payload []byte, sigHeader, secret string, cfg StripeConfig) (*stripe.Event, bool, error) {
	downgrade := cfg.AllowUnverified && !cfg.Production

	if sigHeader == "" && !downgrade {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}

	if sigHeader != "" {
		event, err := webhook.ConstructEvent(payload, sigHeader, secret)
		if err == nil {
			return &event, true, nil
		}
		if !downgrade {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature")
		}
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	if event.ID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id missing")
	}
	return &event, false, nil
}
