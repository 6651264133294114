// internal/payment/gateway.go
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest encapsulates everything a gateway needs to open a charge.
type ChargeRequest struct {
	Amount         decimal.Decimal // total to collect, fee included when additive
	Currency       string
	Method         Method
	Provider       Provider // mobile money only
	Phone          string   // mobile money only
	PayerName      string
	PayerEmail     string
	Description    string // shown on the payer's statement or prompt
	IdempotencyKey string // the PendingPayment id, passed unchanged
}

// ChargeResult is what the gateway hands back once it accepted the charge.
type ChargeResult struct {
	Reference    string
	RedirectURL  string // card only
	Instructions string
}

type GatewayStatus string

const (
	GatewayPending    GatewayStatus = "pending"
	GatewaySuccessful GatewayStatus = "successful"
	GatewayFailed     GatewayStatus = "failed"
)

func (s GatewayStatus) Valid() bool {
	return s == GatewayPending || s == GatewaySuccessful || s == GatewayFailed
}

// StatusReport is one answer to a status query.
type StatusReport struct {
	Status GatewayStatus
	Reason string // set by some gateways when Status is failed
}

// Gateway abstracts the money mover. Charge must be idempotent on
// IdempotencyKey; Status is a read only query.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Status(ctx context.Context, reference string) (StatusReport, error)
}

// StatusChecker is the read half of Gateway.
type StatusChecker interface {
	Status(ctx context.Context, reference string) (StatusReport, error)
}

// NormalizedEvent is a gateway webhook reduced to what the reconciler needs.
type NormalizedEvent struct {
	EventID   string
	Provider  string
	Reference string
	Status    GatewayStatus
	Reason    string
}
