// internal/webhook/processor.go
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
)

var ErrInvalidSignature = errors.New("webhook signature invalid")

// Processor verifies a gateway webhook and reduces it to a NormalizedEvent.
// A nil event with a nil error means the webhook is valid but irrelevant.
type Processor interface {
	Provider() string
	VerifyAndParse(payload []byte, headers http.Header) (*payment.NormalizedEvent, error)
}

// Signaler applies a gateway result to the payment with that reference.
type Signaler interface {
	ApplySignal(ctx context.Context, reference string, report payment.StatusReport) (*reconciler.Outcome, error)
}

// Dispatcher feeds verified webhooks into the reconciler, so a webhook and a
// concurrent poll go through the same ledger transitions.
type Dispatcher struct {
	signaler Signaler
	logger   *slog.Logger
}

func NewDispatcher(s Signaler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{signaler: s, logger: logger.With(slog.String("component", "webhook"))}
}

// Dispatch returns (nil, nil) for ignored events. ErrPaymentNotFound is
// returned for references we never issued.
func (d *Dispatcher) Dispatch(ctx context.Context, p Processor, payload []byte, headers http.Header) (*reconciler.Outcome, error) {
	event, err := p.VerifyAndParse(payload, headers)
	if err != nil {
		d.logger.Warn("webhook rejected", slog.String("provider", p.Provider()), slog.Any("error", err))
		return nil, err
	}
	if event == nil || event.Status == payment.GatewayPending {
		return nil, nil
	}
	d.logger.Info("webhook received",
		slog.String("provider", event.Provider),
		slog.String("event_id", event.EventID),
		slog.String("reference", event.Reference),
		slog.String("status", string(event.Status)))

	out, err := d.signaler.ApplySignal(ctx, event.Reference, payment.StatusReport{Status: event.Status, Reason: event.Reason})
	if err != nil {
		return nil, fmt.Errorf("apply %s webhook %s: %w", event.Provider, event.EventID, err)
	}
	return out, nil
}
