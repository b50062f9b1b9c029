package payments

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	pkgstripe "github.com/pesapoints/pesapoints-backend/pkg/stripe"
)

type stripeProvider struct {
	api *pkgstripe.Client
}

// NewStripeProvider wraps the configured Stripe client as a CardProvider.
func NewStripeProvider(api *pkgstripe.Client) CardProvider {
	if api == nil {
		return nil
	}
	return &stripeProvider{api: api}
}

func (p *stripeProvider) CreateIntent(ctx context.Context, input ProviderChargeInput) (*ProviderRef, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(input.Amount)),
		Currency: stripe.String(strings.ToLower(input.Currency.String())),
		Metadata: map[string]string{
			"user_id":   input.UserID.String(),
			"reference": input.Reference,
		},
	}

	intent, err := p.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe payment intent")
	}
	if intent == nil || intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned no payment intent id")
	}
	return &ProviderRef{CorrelationID: intent.ID, ClientToken: intent.ClientSecret}, nil
}
