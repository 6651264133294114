// internal/workflow/reconcile_workflow.go
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const TaskQueue = "PAYMENT_RECONCILE_QUEUE"

// Activity names, matching the Activities methods.
const (
	ActivityBeginConfirmation = "BeginConfirmation"
	ActivityPollPayment       = "PollPayment"
	ActivityExpirePayment     = "ExpirePayment"
)

type ReconcileInput struct {
	PaymentID   string
	Interval    time.Duration
	MaxAttempts int
}

// PollResult is what every activity returns.
type PollResult struct {
	PaymentID string
	Done      bool
	Status    string
	Attempts  int
	Reason    string
}

// ReconcilePaymentWorkflow is the durable version of the in-process poll
// loop: the waits are timers owned by Temporal, so a worker restart resumes
// where it left off instead of starting a fresh budget.
func ReconcilePaymentWorkflow(ctx workflow.Context, in ReconcileInput) (PollResult, error) {
	logger := workflow.GetLogger(ctx)

	// Each step is a single quick call; a gateway outage is absorbed by the
	// poll budget, not by activity retries.
	retryPolicy := &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Second,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{ErrTypeMisconfigured, ErrTypeNotFound},
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         retryPolicy,
	})

	// Step 1: pending_confirmation
	var result PollResult
	if err := workflow.ExecuteActivity(ctx, ActivityBeginConfirmation, in.PaymentID).Get(ctx, &result); err != nil {
		return PollResult{}, err
	}
	if result.Done {
		return result, nil
	}

	// Step 2: bounded polling
	for attempt := 1; attempt <= in.MaxAttempts; attempt++ {
		if err := workflow.Sleep(ctx, in.Interval); err != nil {
			return PollResult{}, err
		}
		if err := workflow.ExecuteActivity(ctx, ActivityPollPayment, in.PaymentID, attempt).Get(ctx, &result); err != nil {
			return PollResult{}, err
		}
		if result.Done {
			logger.Info("payment reconciled", "PaymentID", in.PaymentID, "Status", result.Status, "Attempt", attempt)
			return result, nil
		}
	}

	// Step 3: budget exhausted
	if err := workflow.ExecuteActivity(ctx, ActivityExpirePayment, in.PaymentID).Get(ctx, &result); err != nil {
		return PollResult{}, err
	}
	logger.Warn("payment confirmation expired", "PaymentID", in.PaymentID)
	return result, nil
}
