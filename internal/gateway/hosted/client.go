// internal/gateway/hosted/client.go
package hosted

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/go-resty/resty/v2"
)

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration // per request
}

// chargeRequest is the wire body of POST /v1/charges.
type chargeRequest struct {
	Amount      string `json:"amount"` // decimal string, e.g. "105.00"
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Provider    string `json:"provider,omitempty"`
	Phone       string `json:"phone,omitempty"`
	PayerName   string `json:"payer_name"`
	PayerEmail  string `json:"payer_email,omitempty"`
	Description string `json:"description"`
}

type chargeResponse struct {
	Reference    string `json:"reference"`
	RedirectURL  string `json:"redirect_url"`
	Instructions string `json:"instructions"`
}

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type apiError struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// Gateway talks to the hosted payment gateway for mobile money and card.
type Gateway struct {
	client     *resty.Client
	configured bool
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.SecretKey != "" {
		client.SetAuthToken(cfg.SecretKey)
	}
	return &Gateway{
		client:     client,
		configured: cfg.BaseURL != "" && cfg.SecretKey != "",
		logger:     logger.With(slog.String("component", "gateway.hosted")),
	}
}

// Charge opens a charge. Mobile money numbers are validated before any
// network call; the idempotency key travels as the Idempotency-Key header.
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if !g.configured {
		g.logger.Error("CRITICAL: hosted gateway base url or secret key is not set")
		return nil, payment.ErrGatewayMisconfigured
	}
	if req.Amount.Sign() <= 0 {
		return nil, payment.ErrInvalidAmount
	}

	body := chargeRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Method:      string(req.Method),
		PayerName:   req.PayerName,
		PayerEmail:  req.PayerEmail,
		Description: req.Description,
	}
	switch req.Method {
	case payment.MethodMobileMoney:
		if req.Provider == "" {
			return nil, fmt.Errorf("%w: mobile money needs a provider", payment.ErrInvalidPhoneNumber)
		}
		phone, err := payment.NormalizePhone(req.Provider, req.Phone)
		if err != nil {
			return nil, err
		}
		body.Provider = string(req.Provider)
		body.Phone = phone
	case payment.MethodCard:
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", payment.ErrGatewayRejected, req.Method)
	}

	var result chargeResponse
	var apiErr apiError
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v1/charges")
	if err != nil {
		g.logger.Warn("charge request failed",
			slog.String("idempotency_key", req.IdempotencyKey), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		g.logger.Warn("gateway refused charge",
			slog.String("idempotency_key", req.IdempotencyKey),
			slog.Int("status", resp.StatusCode()),
			slog.String("body", resp.String()))
		return nil, classify(resp.StatusCode(), apiErr)
	}
	if result.Reference == "" {
		g.logger.Error("gateway accepted charge without a reference",
			slog.String("idempotency_key", req.IdempotencyKey), slog.String("body", resp.String()))
		return nil, fmt.Errorf("%w: empty reference in charge response", payment.ErrGatewayUnavailable)
	}
	if req.Method == payment.MethodCard && result.RedirectURL == "" {
		return nil, fmt.Errorf("%w: card charge without redirect url", payment.ErrGatewayUnavailable)
	}

	return &payment.ChargeResult{
		Reference:    result.Reference,
		RedirectURL:  result.RedirectURL,
		Instructions: result.Instructions,
	}, nil
}

// Status is a read only query; safe to repeat.
func (g *Gateway) Status(ctx context.Context, reference string) (payment.StatusReport, error) {
	if !g.configured {
		return payment.StatusReport{}, payment.ErrGatewayMisconfigured
	}

	var result statusResponse
	var apiErr apiError
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("reference", reference).
		SetResult(&result).
		SetError(&apiErr).
		Get("/v1/charges/{reference}")
	if err != nil {
		return payment.StatusReport{}, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		g.logger.Warn("status query refused",
			slog.String("reference", reference),
			slog.Int("status", resp.StatusCode()),
			slog.String("body", resp.String()))
		return payment.StatusReport{}, classify(resp.StatusCode(), apiErr)
	}

	status := payment.GatewayStatus(result.Status)
	if !status.Valid() {
		// unknown wording is treated as still pending
		g.logger.Warn("unknown gateway status", slog.String("reference", reference), slog.String("status", result.Status))
		status = payment.GatewayPending
	}
	return payment.StatusReport{Status: status, Reason: result.Reason}, nil
}

// classify maps an HTTP failure to the checkout error taxonomy. The gateway's
// message is kept for logs but never shown to users.
func classify(code int, apiErr apiError) error {
	detail := apiErr.Message
	if detail == "" {
		detail = http.StatusText(code)
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", payment.ErrGatewayMisconfigured, detail)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", payment.ErrGatewayUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", payment.ErrGatewayRejected, detail)
	}
}
