// internal/events/payment_events.go
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

// Event names carried in Envelope.Event.
const (
	EventPaymentSettled = "payment.settled"
	EventPaymentFailed  = "payment.failed"
	EventPaymentExpired = "payment.expired"

	EventSubscriptionActivated = "subscription.activated"
	EventOrderPaid             = "order.paid"
	EventDonationRecorded      = "donation.recorded"
)

// Envelope is the message value on the payment events topic. EventID is
// the same for every redelivery of one event, so consumers can drop repeats.
type Envelope struct {
	EventID    string         `json:"event_id"`
	Event      string         `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    PaymentPayload `json:"payload"`
}

// PaymentPayload carries amounts as decimal strings.
type PaymentPayload struct {
	PaymentID     string `json:"payment_id"`
	Kind          string `json:"kind"`
	OwnerID       string `json:"owner_id,omitempty"`
	SubjectID     string `json:"subject_id"`
	Status        string `json:"status"`
	Reference     string `json:"reference,omitempty"`
	Method        string `json:"method"`
	Provider      string `json:"provider,omitempty"`
	Currency      string `json:"currency"`
	AmountGross   string `json:"amount_gross"`
	FeeAmount     string `json:"fee_amount"`
	AmountNet     string `json:"amount_net"`
	TotalCharged  string `json:"total_charged"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func payloadOf(p *payment.PendingPayment) PaymentPayload {
	return PaymentPayload{
		PaymentID:     p.ID.String(),
		Kind:          string(p.Kind),
		OwnerID:       p.OwnerID,
		SubjectID:     p.SubjectID,
		Status:        string(p.Status),
		Reference:     p.GatewayReference,
		Method:        string(p.Method),
		Provider:      string(p.Provider),
		Currency:      p.Currency,
		AmountGross:   p.AmountGross.StringFixed(2),
		FeeAmount:     p.FeeAmount.StringFixed(2),
		AmountNet:     p.AmountNet.StringFixed(2),
		TotalCharged:  p.TotalCharged.StringFixed(2),
		FailureReason: p.FailureReason,
	}
}

// EventID identifies one event of one payment.
func EventID(paymentID, event string) string {
	return paymentID + ":" + event
}

// terminalEvent maps a terminal status to its event name.
func terminalEvent(s payment.Status) (string, bool) {
	switch {
	case s.IsSettled():
		return EventPaymentSettled, true
	case s == payment.StatusFailed:
		return EventPaymentFailed, true
	case s == payment.StatusExpired:
		return EventPaymentExpired, true
	}
	return "", false
}

// PaymentEvents publishes every applied terminal transition. It is a
// reconciler settlement hook.
type PaymentEvents struct {
	pub    Publisher
	now    func() time.Time
	logger *slog.Logger
}

func NewPaymentEvents(pub Publisher, logger *slog.Logger) *PaymentEvents {
	return &PaymentEvents{
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "payment.events")),
	}
}

func (e *PaymentEvents) OnTerminal(ctx context.Context, p *payment.PendingPayment) error {
	name, ok := terminalEvent(p.Status)
	if !ok {
		return nil
	}
	return e.publish(ctx, name, p)
}

// Fulfill announces the business side effect of a settled payment so the
// owning service (subscriptions, orders, campaigns) can apply it.
func (e *PaymentEvents) Fulfill(ctx context.Context, p *payment.PendingPayment) error {
	var name string
	switch p.Kind {
	case payment.KindSubscription:
		name = EventSubscriptionActivated
	case payment.KindOrder:
		name = EventOrderPaid
	case payment.KindDonation:
		name = EventDonationRecorded
	default:
		return fmt.Errorf("no fulfillment event for kind %q", p.Kind)
	}
	return e.publish(ctx, name, p)
}

func (e *PaymentEvents) publish(ctx context.Context, name string, p *payment.PendingPayment) error {
	env := Envelope{EventID: EventID(p.ID.String(), name), Event: name, OccurredAt: e.now(), Payload: payloadOf(p)}
	if err := e.pub.Publish(ctx, p.ID.String(), env); err != nil {
		return fmt.Errorf("publish %s for %s: %w", name, p.ID, err)
	}
	e.logger.Info("event published",
		slog.String("event", name),
		slog.String("payment_id", p.ID.String()))
	return nil
}
