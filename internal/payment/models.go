// internal/payment/models.go
package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the business category a payment belongs to.
type Kind string

const (
	KindDonation     Kind = "donation"
	KindOrder        Kind = "order"
	KindSubscription Kind = "subscription"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDonation, KindOrder, KindSubscription:
		return true
	}
	return false
}

type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodCard        Method = "card"
)

func (m Method) Valid() bool {
	return m == MethodMobileMoney || m == MethodCard
}

// Provider is the mobile money network. Empty for card payments.
type Provider string

const (
	ProviderMTN    Provider = "mtn"
	ProviderAirtel Provider = "airtel"
	ProviderZamtel Provider = "zamtel"
)

// FeeMode says whether the platform fee is carved out of the entered amount
// (inclusive) or charged on top of it (additive).
type FeeMode string

const (
	FeeModeInclusive FeeMode = "inclusive"
	FeeModeAdditive  FeeMode = "additive"
)

func (m FeeMode) Valid() bool {
	return m == FeeModeInclusive || m == FeeModeAdditive
}

// Breakdown is the fee split of a single payment, in currency units rounded
// to the configured minor units.
type Breakdown struct {
	Gross        decimal.Decimal `json:"gross"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	Net          decimal.Decimal `json:"net"`
	TotalCharged decimal.Decimal `json:"total_charged"`
	Mode         FeeMode         `json:"fee_mode"`
}

// Equal compares amounts by value, so 5.0 and 5.00 are the same.
func (b Breakdown) Equal(o Breakdown) bool {
	return b.Mode == o.Mode &&
		b.Gross.Equal(o.Gross) &&
		b.FeeAmount.Equal(o.FeeAmount) &&
		b.Net.Equal(o.Net) &&
		b.TotalCharged.Equal(o.TotalCharged)
}

type Status string

const (
	StatusDraft               Status = "draft"
	StatusAwaitingGateway     Status = "awaiting_gateway"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusActive              Status = "active"    // settled subscription or donation
	StatusSucceeded           Status = "succeeded" // settled marketplace order
	StatusFailed              Status = "failed"
	StatusExpired             Status = "expired"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusActive, StatusSucceeded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s Status) IsSettled() bool {
	return s == StatusActive || s == StatusSucceeded
}

// OpenStatuses are the non-terminal statuses. At most one record per
// (owner, subject) may be in one of them.
var OpenStatuses = []Status{StatusDraft, StatusAwaitingGateway, StatusPendingConfirmation}

// SettledStatusFor returns the success status used for a kind. Orders are
// succeeded; subscriptions and recorded donations stay active.
func SettledStatusFor(k Kind) Status {
	if k == KindOrder {
		return StatusSucceeded
	}
	return StatusActive
}

// PendingPayment is the durable record of one checkout attempt. Only the
// ledger changes Status and GatewayReference.
type PendingPayment struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	OwnerID   string    `json:"owner_id"` // empty for anonymous donations
	SubjectID string    `json:"subject_id"`

	AmountGross  decimal.Decimal `json:"amount_gross"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	AmountNet    decimal.Decimal `json:"amount_net"`
	TotalCharged decimal.Decimal `json:"total_charged"`
	FeeMode      FeeMode         `json:"fee_mode"`
	Currency     string          `json:"currency"`

	Method           Method   `json:"method"`
	Provider         Provider `json:"provider,omitempty"`
	GatewayReference string   `json:"gateway_reference,omitempty"`
	RedirectURL      string   `json:"redirect_url,omitempty"`

	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	PollAttempts  int        `json:"poll_attempts"`
	LastPolledAt  *time.Time `json:"last_polled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int64      `json:"version"`

	// HooksDone names the settlement hooks that already ran for the terminal
	// status. HooksCompletedAt is set once every hook succeeded.
	HooksDone        []string   `json:"hooks_done,omitempty"`
	HooksCompletedAt *time.Time `json:"hooks_completed_at,omitempty"`
}

// HookDone reports whether the named settlement hook already ran.
func (p *PendingPayment) HookDone(name string) bool {
	for _, n := range p.HooksDone {
		if n == name {
			return true
		}
	}
	return false
}

func (p *PendingPayment) Breakdown() Breakdown {
	return Breakdown{
		Gross:        p.AmountGross,
		FeeAmount:    p.FeeAmount,
		Net:          p.AmountNet,
		TotalCharged: p.TotalCharged,
		Mode:         p.FeeMode,
	}
}

func (p *PendingPayment) SetBreakdown(b Breakdown) {
	p.AmountGross = b.Gross
	p.FeeAmount = b.FeeAmount
	p.AmountNet = b.Net
	p.TotalCharged = b.TotalCharged
	p.FeeMode = b.Mode
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *PendingPayment) Clone() *PendingPayment {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastPolledAt != nil {
		t := *p.LastPolledAt
		c.LastPolledAt = &t
	}
	if p.HooksCompletedAt != nil {
		t := *p.HooksCompletedAt
		c.HooksCompletedAt = &t
	}
	c.HooksDone = append([]string(nil), p.HooksDone...)
	return &c
}
