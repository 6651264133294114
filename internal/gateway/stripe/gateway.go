// internal/gateway/stripe/gateway.go
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// Gateway opens Stripe Checkout Sessions for card payments. The session id
// is our gateway reference and its URL the redirect.
type Gateway struct {
	client *client.API
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	return NewWithBackends(cfg, nil, logger)
}

// NewWithBackends lets tests point the client at a local server.
func NewWithBackends(cfg Config, backends *stripe.Backends, logger *slog.Logger) *Gateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &Gateway{
		client: sc,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "gateway.stripe")),
	}
}

func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if g.cfg.SecretKey == "" || g.cfg.SuccessURL == "" {
		g.logger.Error("CRITICAL: stripe secret key or success url is not set")
		return nil, payment.ErrGatewayMisconfigured
	}
	if req.Method != payment.MethodCard {
		return nil, fmt.Errorf("%w: stripe only handles card payments", payment.ErrGatewayRejected)
	}
	minor := req.Amount.Shift(2).Round(0).IntPart()
	if minor <= 0 {
		return nil, payment.ErrInvalidAmount
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.IdempotencyKey),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(minor),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}
	params.AddMetadata("payment_id", req.IdempotencyKey)
	// Stripe replays the first response for a repeated key.
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Warn("checkout session failed",
			slog.String("idempotency_key", req.IdempotencyKey), slog.Any("error", err))
		return nil, mapStripeError(err)
	}

	return &payment.ChargeResult{
		Reference:    session.ID,
		RedirectURL:  session.URL,
		Instructions: "Complete the card payment on the secure page.",
	}, nil
}

func (g *Gateway) Status(ctx context.Context, reference string) (payment.StatusReport, error) {
	if g.cfg.SecretKey == "" {
		return payment.StatusReport{}, payment.ErrGatewayMisconfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := g.client.CheckoutSessions.Get(reference, params)
	if err != nil {
		return payment.StatusReport{}, mapStripeError(err)
	}
	return SessionReport(session), nil
}

// SessionReport maps a Checkout Session to a gateway status. Status polling
// and the webhook processor share it so both read a session the same way.
// A complete session with nothing to charge counts as paid.
func SessionReport(s *stripe.CheckoutSession) payment.StatusReport {
	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			return payment.StatusReport{Status: payment.GatewaySuccessful}
		}
		// async payment methods complete the session before funds arrive
		return payment.StatusReport{Status: payment.GatewayPending}
	case stripe.CheckoutSessionStatusExpired:
		return payment.StatusReport{Status: payment.GatewayFailed, Reason: "checkout session expired"}
	default:
		return payment.StatusReport{Status: payment.GatewayPending}
	}
}

// mapStripeError converts stripe-go errors into checkout errors so the
// library never leaks past this package.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", payment.ErrGatewayMisconfigured, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.Code == stripe.ErrorCodeRateLimit ||
		stripeErr.Code == stripe.ErrorCodeLockTimeout:
		return fmt.Errorf("%w: %s", payment.ErrGatewayUnavailable, stripeErr.Msg)
	case stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse:
		// the first request with this key is still running
		return fmt.Errorf("%w: idempotency key in use", payment.ErrGatewayUnavailable)
	default:
		return fmt.Errorf("%w: %s", payment.ErrGatewayRejected, stripeErr.Msg)
	}
}
