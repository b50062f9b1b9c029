package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesapoints/pesapoints-backend/pkg/enums"
)

// ProviderRef carries what a provider hands back at payment creation: the
// correlation id its completion callback will echo, and an optional client
// token the frontend needs to finish the flow (Stripe client secret).
type ProviderRef struct {
	CorrelationID string
	ClientToken   string
}

// ProviderChargeInput describes one charge request to a provider.
type ProviderChargeInput struct {
	UserID    uuid.UUID
	Amount    int
	Currency  enums.Currency
	Phone     string
	Reference string
}

// CardProvider opens a card payment and returns its correlation id.
type CardProvider interface {
	CreateIntent(ctx context.Context, input ProviderChargeInput) (*ProviderRef, error)
}

// MobileMoneyProvider pushes a payment prompt to a phone and returns its
// correlation id.
type MobileMoneyProvider interface {
	RequestPush(ctx context.Context, input ProviderChargeInput) (*ProviderRef, error)
}
