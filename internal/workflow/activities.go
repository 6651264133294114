// internal/workflow/activities.go
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

const (
	ErrTypeMisconfigured = "GatewayMisconfigured"
	ErrTypeNotFound      = "PaymentNotFound"
)

// Activities wraps the reconciler so Temporal can drive it step by step.
type Activities struct {
	Reconciler *reconciler.Reconciler
}

func (a *Activities) BeginConfirmation(ctx context.Context, paymentID string) (PollResult, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return PollResult{}, err
	}
	p, err := a.Reconciler.Begin(ctx, id)
	if err != nil {
		return PollResult{}, wrapActivityError(err)
	}
	return PollResult{
		PaymentID: paymentID,
		Done:      p.Status.IsTerminal(),
		Status:    string(p.Status),
		Attempts:  p.PollAttempts,
		Reason:    p.FailureReason,
	}, nil
}

func (a *Activities) PollPayment(ctx context.Context, paymentID string, attempt int) (PollResult, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return PollResult{}, err
	}
	out, done, err := a.Reconciler.PollOnce(ctx, id, attempt, nil)
	if err != nil {
		return PollResult{}, wrapActivityError(err)
	}
	if !done {
		return PollResult{PaymentID: paymentID, Attempts: attempt, Status: string(payment.StatusPendingConfirmation)}, nil
	}
	return fromOutcome(out), nil
}

func (a *Activities) ExpirePayment(ctx context.Context, paymentID string) (PollResult, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return PollResult{}, err
	}
	out, err := a.Reconciler.ExpireExhausted(ctx, id)
	if err != nil {
		return PollResult{}, wrapActivityError(err)
	}
	return fromOutcome(out), nil
}

func fromOutcome(out *reconciler.Outcome) PollResult {
	return PollResult{
		PaymentID: out.PaymentID.String(),
		Done:      out.Status.IsTerminal(),
		Status:    string(out.Status),
		Attempts:  out.Attempts,
		Reason:    out.Reason,
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, temporal.NewNonRetryableApplicationError("invalid payment id", ErrTypeNotFound, err)
	}
	return id, nil
}

// wrapActivityError marks errors that retrying cannot fix.
func wrapActivityError(err error) error {
	switch {
	case errors.Is(err, payment.ErrGatewayMisconfigured):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeMisconfigured, err)
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, payment.ErrInvalidTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	}
	return err
}

// Start launches the durable reconciliation for a payment. The workflow id
// is derived from the payment id, so starting twice attaches to the same run.
func Start(ctx context.Context, c client.Client, in ReconcileInput) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reconcile-payment-" + in.PaymentID,
		TaskQueue: TaskQueue,
	}, ReconcilePaymentWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("workflow: start reconcile %s: %w", in.PaymentID, err)
	}
	return run, nil
}
