// internal/checkout/fulfillment.go
package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

// Fulfiller performs the business side effect of a settled payment:
// activating a subscription, marking an order paid, recording a donation.
type Fulfiller interface {
	Fulfill(ctx context.Context, p *payment.PendingPayment) error
}

type FulfillerFunc func(ctx context.Context, p *payment.PendingPayment) error

func (f FulfillerFunc) Fulfill(ctx context.Context, p *payment.PendingPayment) error {
	return f(ctx, p)
}

// Fulfillment dispatches settled payments to the fulfiller for their kind.
// It is registered as a reconciler settlement hook, which only fires for the
// call that applied the transition.
type Fulfillment struct {
	byKind map[payment.Kind]Fulfiller
	logger *slog.Logger
}

func NewFulfillment(byKind map[payment.Kind]Fulfiller, logger *slog.Logger) *Fulfillment {
	return &Fulfillment{byKind: byKind, logger: logger.With(slog.String("component", "fulfillment"))}
}

func (f *Fulfillment) OnTerminal(ctx context.Context, p *payment.PendingPayment) error {
	if !p.Status.IsSettled() {
		return nil
	}
	fulfiller, ok := f.byKind[p.Kind]
	if !ok {
		return fmt.Errorf("fulfillment: no fulfiller for kind %q", p.Kind)
	}
	if err := fulfiller.Fulfill(ctx, p); err != nil {
		return fmt.Errorf("fulfillment: %s %s: %w", p.Kind, p.SubjectID, err)
	}
	f.logger.Info("payment fulfilled",
		slog.String("payment_id", p.ID.String()),
		slog.String("kind", string(p.Kind)),
		slog.String("subject_id", p.SubjectID))
	return nil
}
