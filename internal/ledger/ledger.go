// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/lock"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/google/uuid"
)

const defaultMaxRetries = 5

// Intent is what a caller wants to pay for.
type Intent struct {
	OwnerID   string
	SubjectID string
	Kind      payment.Kind
	Breakdown payment.Breakdown
	Currency  string
	Method    payment.Method
	Provider  payment.Provider
}

// Attachment is the gateway's answer recorded against a draft.
type Attachment struct {
	Reference   string
	Method      payment.Method
	Provider    payment.Provider
	RedirectURL string
}

// Ledger is the only writer of PendingPayment status and reference. Every
// write goes through a keyed lock plus the store's version check, so two
// processes racing on one record converge instead of overwriting each other.
type Ledger struct {
	store      payment.Store
	locker     lock.Locker
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = n }
}

func New(store payment.Store, locker lock.Locker, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locker:     locker,
		logger:     logger.With(slog.String("component", "ledger")),
		now:        time.Now,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func pairLockKey(owner, subject string) string {
	return "pair:" + owner + "|" + subject
}

func paymentLockKey(id uuid.UUID) string {
	return "payment:" + id.String()
}

// EnsurePending returns the open record for (owner, subject) or creates a new
// draft. A draft's amounts are refreshed to the latest intent; a record that
// already went to the gateway is returned untouched.
func (l *Ledger) EnsurePending(ctx context.Context, in Intent) (*payment.PendingPayment, error) {
	if in.SubjectID == "" || !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: subject and kind are required", payment.ErrValidation)
	}
	if in.Breakdown.TotalCharged.Sign() <= 0 {
		return nil, fmt.Errorf("%w: breakdown total must be positive", payment.ErrInvalidAmount)
	}

	unlock, err := l.locker.Lock(ctx, pairLockKey(in.OwnerID, in.SubjectID))
	if err != nil {
		return nil, fmt.Errorf("ledger: lock pair: %w", err)
	}
	defer unlock()

	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		// 1. A settled subscription or order blocks paying for it again.
		// Donors may give to the same campaign repeatedly.
		if in.Kind != payment.KindDonation {
			settled, err := l.store.FindSettled(ctx, in.OwnerID, in.SubjectID)
			if err == nil {
				return nil, fmt.Errorf("%w: payment %s is %s", payment.ErrActiveConflict, settled.ID, settled.Status)
			}
			if !errors.Is(err, payment.ErrPaymentNotFound) {
				return nil, fmt.Errorf("ledger: find settled: %w", err)
			}
		}

		// 2. Reuse the open record
		open, err := l.store.FindOpen(ctx, in.OwnerID, in.SubjectID)
		if err == nil {
			if open.Status != payment.StatusDraft || draftMatches(open, in) {
				return open, nil
			}
			expected := open.Version
			open.SetBreakdown(in.Breakdown)
			open.Currency = in.Currency
			open.Method = in.Method
			open.Provider = in.Provider
			open.UpdatedAt = l.now()
			err = l.store.Update(ctx, open, expected)
			if errors.Is(err, payment.ErrVersionConflict) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("ledger: refresh draft: %w", err)
			}
			return open, nil
		}
		if !errors.Is(err, payment.ErrPaymentNotFound) {
			return nil, fmt.Errorf("ledger: find open: %w", err)
		}

		// 3. Nothing open, create the draft
		now := l.now()
		p := &payment.PendingPayment{
			ID:        uuid.New(),
			Kind:      in.Kind,
			OwnerID:   in.OwnerID,
			SubjectID: in.SubjectID,
			Currency:  in.Currency,
			Method:    in.Method,
			Provider:  in.Provider,
			Status:    payment.StatusDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		p.SetBreakdown(in.Breakdown)

		err = l.store.Create(ctx, p)
		if errors.Is(err, payment.ErrDuplicatePending) {
			// another process created it between our read and insert
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ledger: create draft: %w", err)
		}
		l.logger.Info("created pending payment",
			slog.String("payment_id", p.ID.String()),
			slog.String("kind", string(p.Kind)),
			slog.String("subject_id", p.SubjectID))
		return p, nil
	}
	return nil, fmt.Errorf("ledger: ensure pending for %s: %w", in.SubjectID, payment.ErrVersionConflict)
}

func draftMatches(p *payment.PendingPayment, in Intent) bool {
	return p.Breakdown().Equal(in.Breakdown) &&
		p.Currency == in.Currency &&
		p.Method == in.Method &&
		p.Provider == in.Provider
}

// mutation changes p in place and reports whether anything changed.
type mutation func(p *payment.PendingPayment) (changed bool, err error)

// mutate is the single write path for existing records: lock, read, apply,
// compare-and-swap, retry on version conflicts.
func (l *Ledger) mutate(ctx context.Context, id uuid.UUID, fn mutation) (*payment.PendingPayment, bool, error) {
	unlock, err := l.locker.Lock(ctx, paymentLockKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("ledger: lock payment: %w", err)
	}
	defer unlock()

	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		p, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		expected := p.Version

		changed, err := fn(p)
		if err != nil {
			return p, false, err
		}
		if !changed {
			return p, false, nil
		}

		p.UpdatedAt = l.now()
		err = l.store.Update(ctx, p, expected)
		if errors.Is(err, payment.ErrVersionConflict) {
			l.logger.Debug("version conflict, re-reading",
				slog.String("payment_id", id.String()), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("ledger: update %s: %w", id, err)
		}
		return p, true, nil
	}
	return nil, false, fmt.Errorf("ledger: update %s: %w", id, payment.ErrVersionConflict)
}

// AttachReference records the gateway reference on a draft. Attaching the
// same reference twice is a no-op; a different one is a conflict.
func (l *Ledger) AttachReference(ctx context.Context, id uuid.UUID, a Attachment) (*payment.PendingPayment, error) {
	if a.Reference == "" {
		return nil, fmt.Errorf("%w: empty gateway reference", payment.ErrInvalidTransition)
	}
	p, applied, err := l.mutate(ctx, id, func(p *payment.PendingPayment) (bool, error) {
		if p.GatewayReference != "" {
			if p.GatewayReference == a.Reference {
				return false, nil
			}
			return false, fmt.Errorf("%w: has %s, got %s", payment.ErrReferenceConflict, p.GatewayReference, a.Reference)
		}
		if p.Status != payment.StatusDraft {
			return false, fmt.Errorf("%w: attach reference from %s", payment.ErrInvalidTransition, p.Status)
		}
		p.GatewayReference = a.Reference
		p.RedirectURL = a.RedirectURL
		if a.Method != "" {
			p.Method = a.Method
			p.Provider = a.Provider
		}
		p.Status = payment.StatusAwaitingGateway
		return true, nil
	})
	if err != nil {
		if errors.Is(err, payment.ErrReferenceConflict) {
			l.logger.Error("gateway reference conflict",
				slog.String("payment_id", id.String()),
				slog.String("reference", a.Reference),
				slog.Any("error", err))
		}
		return p, err
	}
	if applied {
		l.logger.Info("gateway reference attached",
			slog.String("payment_id", id.String()), slog.String("reference", a.Reference))
	}
	return p, nil
}

// BeginConfirmation moves an awaiting payment into pending_confirmation.
// Terminal records are returned unchanged so the caller can report them.
func (l *Ledger) BeginConfirmation(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	p, _, err := l.mutate(ctx, id, func(p *payment.PendingPayment) (bool, error) {
		switch {
		case p.Status.IsTerminal(), p.Status == payment.StatusPendingConfirmation:
			return false, nil
		case p.GatewayReference == "":
			return false, fmt.Errorf("%w: no gateway reference yet", payment.ErrInvalidTransition)
		}
		p.Status = payment.StatusPendingConfirmation
		return true, nil
	})
	return p, err
}

// RecordPoll notes one status query against a non-terminal record.
func (l *Ledger) RecordPoll(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	p, _, err := l.mutate(ctx, id, func(p *payment.PendingPayment) (bool, error) {
		if p.Status.IsTerminal() {
			return false, nil
		}
		if p.GatewayReference == "" {
			return false, fmt.Errorf("%w: poll without gateway reference", payment.ErrInvalidTransition)
		}
		now := l.now()
		p.PollAttempts++
		p.LastPolledAt = &now
		return true, nil
	})
	return p, err
}

// terminal builds the mutation for a move into target.
func terminal(target payment.Status, needsReference bool, reason string) mutation {
	return func(p *payment.PendingPayment) (bool, error) {
		want := target
		if target == payment.StatusSucceeded {
			want = payment.SettledStatusFor(p.Kind)
		}
		if p.Status.IsTerminal() {
			if p.Status == want {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s -> %s", payment.ErrAlreadyTerminal, p.Status, want)
		}
		if needsReference && p.GatewayReference == "" {
			return false, fmt.Errorf("%w: %s -> %s without gateway reference", payment.ErrInvalidTransition, p.Status, want)
		}
		p.Status = want
		p.FailureReason = reason
		return true, nil
	}
}

// Promote settles the payment: succeeded for orders, active otherwise.
// applied is true only for the call that actually made the transition.
func (l *Ledger) Promote(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, bool, error) {
	return l.finish(ctx, id, terminal(payment.StatusSucceeded, true, ""))
}

// Fail is allowed from draft, which covers checkouts abandoned before the
// gateway accepted the charge.
func (l *Ledger) Fail(ctx context.Context, id uuid.UUID, reason string) (*payment.PendingPayment, bool, error) {
	return l.finish(ctx, id, terminal(payment.StatusFailed, false, reason))
}

// Expire ends a payment whose confirmation window ran out. Like Promote it
// needs a gateway reference.
func (l *Ledger) Expire(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, bool, error) {
	return l.finish(ctx, id, terminal(payment.StatusExpired, true, "confirmation window expired"))
}

func (l *Ledger) finish(ctx context.Context, id uuid.UUID, fn mutation) (*payment.PendingPayment, bool, error) {
	p, applied, err := l.mutate(ctx, id, fn)
	if err != nil {
		if errors.Is(err, payment.ErrAlreadyTerminal) {
			l.logger.Error("conflicting terminal transition",
				slog.String("payment_id", id.String()), slog.Any("error", err))
		}
		return p, false, err
	}
	if applied {
		l.logger.Info("payment reached terminal status",
			slog.String("payment_id", id.String()),
			slog.String("status", string(p.Status)),
			slog.String("reference", p.GatewayReference))
	}
	return p, applied, nil
}

// Get reads one record straight from the store.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) FindByReference(ctx context.Context, reference string) (*payment.PendingPayment, error) {
	return l.store.FindByReference(ctx, reference)
}

// ListStale returns open records untouched since olderThan.
func (l *Ledger) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	return l.store.ListStale(ctx, olderThan, limit)
}

// ListUnfinished returns terminal records whose settlement hooks have not all
// succeeded and that were untouched since olderThan.
func (l *Ledger) ListUnfinished(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	return l.store.ListUnfinished(ctx, olderThan, limit)
}

// RecordHooks adds the settlement hooks that succeeded to a terminal record.
// complete stamps HooksCompletedAt; after that the record is never handed to
// the hooks again.
func (l *Ledger) RecordHooks(ctx context.Context, id uuid.UUID, done []string, complete bool) (*payment.PendingPayment, error) {
	p, _, err := l.mutate(ctx, id, func(p *payment.PendingPayment) (bool, error) {
		if !p.Status.IsTerminal() {
			return false, fmt.Errorf("%w: record hooks on %s", payment.ErrInvalidTransition, p.Status)
		}
		if p.HooksCompletedAt != nil {
			return false, nil
		}
		changed := false
		for _, name := range done {
			if !p.HookDone(name) {
				p.HooksDone = append(p.HooksDone, name)
				changed = true
			}
		}
		if complete {
			now := l.now()
			p.HooksCompletedAt = &now
			changed = true
		}
		return changed, nil
	})
	return p, err
}
