package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/app"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/workflow"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
)

var durable bool

var statusCmd = &cobra.Command{
	Use:   "status <payment-id>",
	Short: "Print the stored payment record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return newOperator(a, cmd.OutOrStdout()).status(ctx, args[0])
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <payment-id>",
	Short: "Ask the gateway once and apply the answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return newOperator(a, cmd.OutOrStdout()).check(ctx, args[0])
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire <payment-id>",
	Short: "Expire an unconfirmed payment",
	Long: `Marks a payment awaiting confirmation as expired. A payment already
in a terminal state is left unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return newOperator(a, cmd.OutOrStdout()).expire(ctx, args[0])
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one stale payment sweep and print the summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return newOperator(a, cmd.OutOrStdout()).sweep(ctx)
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <payment-id>",
	Short: "Poll the gateway until the payment is confirmed or expires",
	Long: `Runs the confirmation loop in this process, printing progress.
With --durable the loop is started as a Temporal workflow instead and the
command waits for its result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			op := newOperator(a, cmd.OutOrStdout())
			if !durable {
				return op.reconcile(ctx, args[0])
			}
			c, err := client.Dial(client.Options{
				HostPort:  a.Config.Common.TEMPORAL_HOST_PORT,
				Namespace: a.Config.Common.TEMPORAL_NAMESPACE,
			})
			if err != nil {
				return fmt.Errorf("temporal: %w", err)
			}
			defer c.Close()
			return op.reconcileDurable(ctx, c, args[0])
		})
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&durable, "durable", false, "run as a Temporal workflow")
}

type paymentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error)
}

type sweepRunner interface {
	RunOnce(ctx context.Context) (reconciler.SweepSummary, error)
}

// operator holds what the commands act on, so they can run against any
// store in tests.
type operator struct {
	ledger  paymentReader
	rec     *reconciler.Reconciler
	sweeper sweepRunner
	out     io.Writer
}

func newOperator(a *app.App, out io.Writer) *operator {
	return &operator{ledger: a.Ledger, rec: a.Reconciler, sweeper: a.Sweeper(), out: out}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a payment id", raw)
	}
	return id, nil
}

func (o *operator) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *operator) printOutcome(out *reconciler.Outcome) {
	fmt.Fprintf(o.out, "%s  %-22s attempts=%d", out.PaymentID, out.Status, out.Attempts)
	if out.Reason != "" {
		fmt.Fprintf(o.out, "  reason=%q", out.Reason)
	}
	fmt.Fprintln(o.out)
}

func (o *operator) status(ctx context.Context, raw string) error {
	id, err := parseID(raw)
	if err != nil {
		return err
	}
	p, err := o.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	return o.printJSON(p)
}

func (o *operator) check(ctx context.Context, raw string) error {
	id, err := parseID(raw)
	if err != nil {
		return err
	}
	p, err := o.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		fmt.Fprintf(o.out, "%s already %s\n", p.ID, p.Status)
		return nil
	}
	if p.GatewayReference == "" {
		return fmt.Errorf("payment %s never reached the gateway (status %s)", p.ID, p.Status)
	}
	out, _, err := o.rec.Check(ctx, p)
	if err != nil {
		return err
	}
	o.printOutcome(out)
	return nil
}

func (o *operator) expire(ctx context.Context, raw string) error {
	id, err := parseID(raw)
	if err != nil {
		return err
	}
	out, err := o.rec.ExpireExhausted(ctx, id)
	if err != nil {
		return err
	}
	o.printOutcome(out)
	return nil
}

func (o *operator) sweep(ctx context.Context) error {
	summary, err := o.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.out, "checked=%d settled=%d failed=%d expired=%d unchanged=%d redelivered=%d errors=%d\n",
		summary.Checked, summary.Settled, summary.Failed, summary.Expired, summary.Unchanged, summary.Redelivered, summary.Errors)
	return nil
}

func (o *operator) reconcile(ctx context.Context, raw string) error {
	id, err := parseID(raw)
	if err != nil {
		return err
	}
	out, err := o.rec.Reconcile(ctx, id, func(p reconciler.Progress) {
		fmt.Fprintf(o.out, "  %s attempt %d/%d\n", p.Status, p.Attempt, p.MaxAttempts)
	})
	if err != nil {
		return err
	}
	o.printOutcome(out)
	return nil
}

func (o *operator) reconcileDurable(ctx context.Context, c client.Client, raw string) error {
	id, err := parseID(raw)
	if err != nil {
		return err
	}
	cfg := o.rec.Config()
	run, err := workflow.Start(ctx, c, workflow.ReconcileInput{
		PaymentID:   id.String(),
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(o.out, "workflow %s run %s started\n", run.GetID(), run.GetRunID())
	var res workflow.PollResult
	if err := run.Get(ctx, &res); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "%s  %-22s attempts=%d\n", res.PaymentID, res.Status, res.Attempts)
	return nil
}
