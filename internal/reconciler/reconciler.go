// internal/reconciler/reconciler.go
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/google/uuid"
)

// Ledger is the part of the ledger the reconciler drives.
type Ledger interface {
	Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error)
	FindByReference(ctx context.Context, reference string) (*payment.PendingPayment, error)
	BeginConfirmation(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error)
	RecordPoll(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error)
	Promote(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, bool, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*payment.PendingPayment, bool, error)
	Expire(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, bool, error)
	RecordHooks(ctx context.Context, id uuid.UUID, done []string, complete bool) (*payment.PendingPayment, error)
}

// SettlementHook runs after a terminal transition. It is called by the
// process that applied the transition and, if it failed, again by the
// sweeper until it succeeds. A hook that succeeded is recorded on the payment
// and not run again for it.
type SettlementHook interface {
	OnTerminal(ctx context.Context, p *payment.PendingPayment) error
}

type HookFunc func(ctx context.Context, p *payment.PendingPayment) error

func (f HookFunc) OnTerminal(ctx context.Context, p *payment.PendingPayment) error {
	return f(ctx, p)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, MaxAttempts: 12}
}

// Window is the total time a payment may stay unconfirmed.
func (c Config) Window() time.Duration {
	return c.Interval * time.Duration(c.MaxAttempts)
}

// Progress is reported to the user while a payment is being confirmed.
type Progress struct {
	PaymentID    uuid.UUID      `json:"payment_id"`
	Status       payment.Status `json:"status"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"max_attempts"`
	Reference    string         `json:"reference,omitempty"`
	RedirectURL  string         `json:"redirect_url,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}

type ProgressFunc func(Progress)

// Outcome is the final state of one payment.
type Outcome struct {
	PaymentID uuid.UUID
	Status    payment.Status
	Attempts  int
	Reason    string
	Payment   *payment.PendingPayment
}

func outcomeOf(p *payment.PendingPayment) *Outcome {
	return &Outcome{
		PaymentID: p.ID,
		Status:    p.Status,
		Attempts:  p.PollAttempts,
		Reason:    p.FailureReason,
		Payment:   p,
	}
}

// Reconciler drives a payment from pending_confirmation to a terminal
// status, either by polling the gateway or from webhook signals.
type namedHook struct {
	name string
	hook SettlementHook
}

type Reconciler struct {
	ledger  Ledger
	gateway payment.StatusChecker
	hooks   []namedHook
	cfg     Config
	wait    func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

type Option func(*Reconciler)

// WithHook registers a settlement hook. name is persisted on the payment once
// the hook succeeded, so it must stay stable across releases.
func WithHook(name string, h SettlementHook) Option {
	return func(r *Reconciler) { r.hooks = append(r.hooks, namedHook{name: name, hook: h}) }
}

// WithWait replaces the interval wait, mainly for tests.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) { r.wait = wait }
}

// New builds a reconciler. A non-positive MaxAttempts or negative Interval
// falls back to DefaultConfig.
func New(ledger Ledger, gateway payment.StatusChecker, cfg Config, logger *slog.Logger, opts ...Option) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Interval < 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	r := &Reconciler{
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		wait:    sleep,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Config() Config {
	return r.cfg
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reconcile polls until the payment is terminal or the attempt budget runs
// out, in which case it is expired. Cancelling ctx stops the loop and returns
// ctx.Err(); cancellation never moves the record to a terminal status.
func (r *Reconciler) Reconcile(ctx context.Context, id uuid.UUID, progress ProgressFunc) (*Outcome, error) {
	p, err := r.Begin(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return outcomeOf(p), nil
	}
	emit(progress, p, 0, r.cfg.MaxAttempts)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := r.wait(ctx, r.cfg.Interval); err != nil {
			r.logger.Info("polling abandoned",
				slog.String("payment_id", id.String()), slog.Int("attempt", attempt), slog.Any("reason", err))
			return nil, err
		}
		out, done, err := r.PollOnce(ctx, id, attempt, progress)
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
	}
	return r.ExpireExhausted(ctx, id)
}

// Begin moves the payment into pending_confirmation.
func (r *Reconciler) Begin(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	p, err := r.ledger.BeginConfirmation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reconciler: begin confirmation: %w", err)
	}
	return p, nil
}

// PollOnce performs a single status check. done reports whether the payment
// is terminal. Transient gateway errors are logged and reported as not done;
// a misconfigured gateway and context errors are returned.
func (r *Reconciler) PollOnce(ctx context.Context, id uuid.UUID, attempt int, progress ProgressFunc) (*Outcome, bool, error) {
	// 1. A webhook may already have resolved it
	current, err := r.ledger.Get(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, fmt.Errorf("reconciler: load payment: %w", err)
	}
	if current.Status.IsTerminal() {
		return outcomeOf(current), true, nil
	}
	if current.GatewayReference == "" {
		return nil, false, fmt.Errorf("reconciler: %w: payment has no gateway reference", payment.ErrInvalidTransition)
	}

	// 2. Count the attempt
	if polled, err := r.ledger.RecordPoll(ctx, id); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		r.logger.Warn("failed to record poll", slog.String("payment_id", id.String()), slog.Any("error", err))
	} else {
		current = polled
	}
	emit(progress, current, attempt, r.cfg.MaxAttempts)

	// 3. Ask the gateway
	report, err := r.gateway.Status(ctx, current.GatewayReference)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if errors.Is(err, payment.ErrGatewayMisconfigured) {
			r.logger.Error("CRITICAL: gateway misconfigured, stopping confirmation",
				slog.String("payment_id", id.String()), slog.Any("error", err))
			return nil, false, err
		}
		r.logger.Warn("status check failed, will retry",
			slog.String("payment_id", id.String()),
			slog.String("reference", current.GatewayReference),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return nil, false, nil
	}

	r.logger.Debug("gateway status",
		slog.String("payment_id", id.String()),
		slog.String("reference", current.GatewayReference),
		slog.String("status", string(report.Status)),
		slog.Int("attempt", attempt))
	return r.apply(ctx, current, report)
}

// ExpireExhausted expires a payment whose confirmation budget ran out.
func (r *Reconciler) ExpireExhausted(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	p, applied, err := r.ledger.Expire(ctx, id)
	out, _, err := r.settle(ctx, p, applied, err)
	if err != nil {
		return nil, err
	}
	if applied {
		r.logger.Warn("payment confirmation expired",
			slog.String("payment_id", id.String()), slog.Int("attempts", out.Attempts))
	}
	return out, nil
}

// Abandon fails a payment that never reached the gateway.
func (r *Reconciler) Abandon(ctx context.Context, id uuid.UUID, reason string) (*Outcome, error) {
	p, applied, err := r.ledger.Fail(ctx, id, reason)
	out, _, err := r.settle(ctx, p, applied, err)
	return out, err
}

// ApplySignal applies an out-of-band gateway result (webhook) through the
// same transitions a poll would use.
func (r *Reconciler) ApplySignal(ctx context.Context, reference string, report payment.StatusReport) (*Outcome, error) {
	p, err := r.ledger.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("reconciler: find %s: %w", reference, err)
	}
	r.logger.Info("gateway signal received",
		slog.String("payment_id", p.ID.String()),
		slog.String("reference", reference),
		slog.String("status", string(report.Status)))

	if p.Status.IsTerminal() && report.Status != payment.GatewayPending {
		wanted := payment.StatusFailed
		if report.Status == payment.GatewaySuccessful {
			wanted = payment.SettledStatusFor(p.Kind)
		}
		if p.Status == wanted {
			return outcomeOf(p), nil
		}
	}
	out, _, err := r.apply(ctx, p, report)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return outcomeOf(p), nil
	}
	return out, nil
}

// Check runs one status query for a payment and applies the answer. Used by
// the sweeper and operators.
func (r *Reconciler) Check(ctx context.Context, p *payment.PendingPayment) (*Outcome, bool, error) {
	report, err := r.gateway.Status(ctx, p.GatewayReference)
	if err != nil {
		return nil, false, fmt.Errorf("reconciler: status %s: %w", p.GatewayReference, err)
	}
	out, done, err := r.apply(ctx, p, report)
	if err != nil || done {
		return out, done, err
	}
	return outcomeOf(p), false, nil
}

func (r *Reconciler) apply(ctx context.Context, p *payment.PendingPayment, report payment.StatusReport) (*Outcome, bool, error) {
	switch report.Status {
	case payment.GatewaySuccessful:
		promoted, applied, err := r.ledger.Promote(ctx, p.ID)
		return r.settle(ctx, promoted, applied, err)
	case payment.GatewayFailed:
		reason := report.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		failed, applied, err := r.ledger.Fail(ctx, p.ID, reason)
		return r.settle(ctx, failed, applied, err)
	default:
		return nil, false, nil
	}
}

// settle turns a ledger terminal result into an outcome and fires hooks when
// the transition was applied here.
func (r *Reconciler) settle(ctx context.Context, p *payment.PendingPayment, applied bool, err error) (*Outcome, bool, error) {
	if err != nil {
		if errors.Is(err, payment.ErrAlreadyTerminal) && p != nil {
			// e.g. gateway reports success for a payment we already expired
			r.logger.Error("gateway result contradicts recorded status, needs manual review",
				slog.String("payment_id", p.ID.String()),
				slog.String("reference", p.GatewayReference),
				slog.String("status", string(p.Status)),
				slog.Any("error", err))
			return outcomeOf(p), true, nil
		}
		return nil, false, err
	}
	if applied {
		// failures are logged and picked up again by the sweeper
		_ = r.dispatch(ctx, p)
	}
	return outcomeOf(p), true, nil
}

// Redeliver runs the settlement hooks of a terminal payment that have not
// succeeded yet. Payments whose hooks all completed are left alone.
func (r *Reconciler) Redeliver(ctx context.Context, p *payment.PendingPayment) error {
	if !p.Status.IsTerminal() {
		return fmt.Errorf("reconciler: %w: redeliver %s payment", payment.ErrInvalidTransition, p.Status)
	}
	if p.HooksCompletedAt != nil {
		return nil
	}
	return r.dispatch(ctx, p)
}

// dispatch runs every hook not yet recorded on p and records the ones that
// succeeded. The payment is marked complete only when none failed.
func (r *Reconciler) dispatch(ctx context.Context, p *payment.PendingPayment) error {
	// Side effects must run even if the caller gave up right after the
	// transition was written.
	hookCtx := context.WithoutCancel(ctx)

	var done []string
	var errs []error
	for _, h := range r.hooks {
		if p.HookDone(h.name) {
			continue
		}
		if err := h.hook.OnTerminal(hookCtx, p.Clone()); err != nil {
			r.logger.Error("CRITICAL: settlement hook failed, sweeper will retry",
				slog.String("payment_id", p.ID.String()),
				slog.String("hook", h.name),
				slog.String("status", string(p.Status)),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		done = append(done, h.name)
	}

	if _, err := r.ledger.RecordHooks(hookCtx, p.ID, done, len(errs) == 0); err != nil {
		// hooks in done may run a second time on redelivery
		r.logger.Error("failed to record settlement hooks",
			slog.String("payment_id", p.ID.String()),
			slog.Any("hooks", done),
			slog.Any("error", err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func emit(progress ProgressFunc, p *payment.PendingPayment, attempt, max int) {
	if progress == nil {
		return
	}
	progress(Progress{
		PaymentID:   p.ID,
		Status:      p.Status,
		Attempt:     attempt,
		MaxAttempts: max,
		Reference:   p.GatewayReference,
		RedirectURL: p.RedirectURL,
	})
}
