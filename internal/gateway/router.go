// internal/gateway/router.go
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

// Router picks a gateway per payment method. Card goes to the card gateway
// when one is configured, everything else to the default gateway.
type Router struct {
	defaultGateway payment.Gateway
	card           payment.Gateway
	cardPrefix     string
}

// NewRouter builds a router. cardPrefix is the reference prefix the card
// gateway issues ("cs_" for Stripe sessions) so Status can be routed too.
func NewRouter(defaultGateway, card payment.Gateway, cardPrefix string) *Router {
	return &Router{defaultGateway: defaultGateway, card: card, cardPrefix: cardPrefix}
}

func (r *Router) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	gw, err := r.forMethod(req.Method)
	if err != nil {
		return nil, err
	}
	return gw.Charge(ctx, req)
}

func (r *Router) Status(ctx context.Context, reference string) (payment.StatusReport, error) {
	if r.card != nil && r.cardPrefix != "" && strings.HasPrefix(reference, r.cardPrefix) {
		return r.card.Status(ctx, reference)
	}
	if r.defaultGateway == nil {
		return payment.StatusReport{}, payment.ErrGatewayMisconfigured
	}
	return r.defaultGateway.Status(ctx, reference)
}

func (r *Router) forMethod(m payment.Method) (payment.Gateway, error) {
	switch m {
	case payment.MethodCard:
		if r.card != nil {
			return r.card, nil
		}
	case payment.MethodMobileMoney:
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", payment.ErrValidation, m)
	}
	if r.defaultGateway == nil {
		return nil, payment.ErrGatewayMisconfigured
	}
	return r.defaultGateway, nil
}
