// internal/webhook/stripe.go
package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"

	stripegw "github.com/Kena440/wathaci-connect-hub-sub003/internal/gateway/stripe"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// StripeProcessor maps Checkout Session events. The session id is the
// payment's gateway reference.
type StripeProcessor struct {
	secret string
}

func NewStripeProcessor(secret string) *StripeProcessor {
	return &StripeProcessor{secret: secret}
}

func (p *StripeProcessor) Provider() string { return "stripe" }

func (p *StripeProcessor) VerifyAndParse(payload []byte, headers http.Header) (*payment.NormalizedEvent, error) {
	if p.secret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret not set", payment.ErrGatewayMisconfigured)
	}
	event, err := stripewebhook.ConstructEventWithOptions(
		payload,
		headers.Get("Stripe-Signature"),
		p.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// the session state each event type implies, for payloads that omit it
	var implied stripe.CheckoutSessionStatus
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		implied = stripe.CheckoutSessionStatusComplete
	case "checkout.session.expired":
		implied = stripe.CheckoutSessionStatusExpired
	default:
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: stripe event %s has no session", payment.ErrValidation, event.ID)
	}
	if session.Status == "" {
		session.Status = implied
	}

	report := stripegw.SessionReport(&session)
	// a complete session stays unpaid while a delayed method settles, so the
	// failure only shows in the event type
	if event.Type == "checkout.session.async_payment_failed" {
		report = payment.StatusReport{Status: payment.GatewayFailed, Reason: "card payment failed"}
	}
	return &payment.NormalizedEvent{
		EventID:   event.ID,
		Provider:  p.Provider(),
		Reference: session.ID,
		Status:    report.Status,
		Reason:    report.Reason,
	}, nil
}
