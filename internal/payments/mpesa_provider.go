package payments

import (
	"context"

	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	pkgmpesa "github.com/pesapoints/pesapoints-backend/pkg/mpesa"
)

type mpesaProvider struct {
	client *pkgmpesa.Client
}

// NewMpesaProvider wraps the Daraja client as a MobileMoneyProvider.
func NewMpesaProvider(client *pkgmpesa.Client) MobileMoneyProvider {
	if client == nil {
		return nil
	}
	return &mpesaProvider{client: client}
}

func (p *mpesaProvider) RequestPush(ctx context.Context, input ProviderChargeInput) (*ProviderRef, error) {
	result, err := p.client.STKPush(ctx, input.Phone, input.Amount, input.Reference, "PesaPoints deposit")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request mpesa stk push")
	}
	return &ProviderRef{CorrelationID: result.CheckoutRequestID}, nil
}
