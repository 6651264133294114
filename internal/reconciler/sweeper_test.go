package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/ledger"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/lock"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperResolvesStalePayments(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPaymentStore()
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := created
	l := ledger.New(store, lock.NewKeyedMutex(), discardLogger(), ledger.WithClock(func() time.Time { return clock }))

	amt := decimal.NewFromInt(50)
	open := func(subject, reference string) *payment.PendingPayment {
		p, err := l.EnsurePending(ctx, ledger.Intent{
			OwnerID: "user-1", SubjectID: subject, Kind: payment.KindOrder, Currency: "ZMW",
			Method:    payment.MethodMobileMoney,
			Provider:  payment.ProviderMTN,
			Breakdown: payment.Breakdown{Gross: amt, Net: amt, TotalCharged: amt, FeeAmount: decimal.Zero, Mode: payment.FeeModeInclusive},
		})
		require.NoError(t, err)
		if reference != "" {
			p, err = l.AttachReference(ctx, p.ID, ledger.Attachment{Reference: reference})
			require.NoError(t, err)
		}
		return p
	}

	paid := open("order-paid", "TXN-PAID")
	stuck := open("order-stuck", "TXN-STUCK")
	draft := open("order-draft", "")

	gw := gatewayFunc(func(reference string) payment.GatewayStatus {
		if reference == "TXN-PAID" {
			return payment.GatewaySuccessful
		}
		return payment.GatewayPending
	})
	hook := &countingHook{}
	rec := New(l, gw, Config{Interval: 10 * time.Second, MaxAttempts: 12}, discardLogger(), WithHook("counting", hook))

	cfg := DefaultSweeperConfig(rec.Config())
	cfg.Workers = 2
	sweeper := NewSweeper(rec, l, cfg, discardLogger())

	// 1. Three hours later: paid settles, stuck expires, draft stays
	sweeper.now = func() time.Time { return created.Add(3 * time.Hour) }
	summary, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Checked)
	assert.Equal(t, int64(1), summary.Settled)
	assert.Equal(t, int64(1), summary.Expired)
	assert.Equal(t, int64(1), summary.Unchanged)

	got, _ := l.Get(ctx, paid.ID)
	assert.Equal(t, payment.StatusSucceeded, got.Status)
	got, _ = l.Get(ctx, stuck.ID)
	assert.Equal(t, payment.StatusExpired, got.Status)
	got, _ = l.Get(ctx, draft.ID)
	assert.Equal(t, payment.StatusDraft, got.Status)

	// 2. Two days later the draft is abandoned
	sweeper.now = func() time.Time { return created.Add(48 * time.Hour) }
	summary, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Failed)

	got, _ = l.Get(ctx, draft.ID)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Len(t, hook.Seen(), 3)
}

type gatewayFunc func(reference string) payment.GatewayStatus

func (f gatewayFunc) Status(ctx context.Context, reference string) (payment.StatusReport, error) {
	return payment.StatusReport{Status: f(reference)}, nil
}

// failOnceHook fails its first call and succeeds afterwards.
type failOnceHook struct {
	mu    sync.Mutex
	calls int
}

func (h *failOnceHook) OnTerminal(ctx context.Context, p *payment.PendingPayment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls == 1 {
		return errors.New("broker unavailable")
	}
	return nil
}

func (h *failOnceHook) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestSweeperRetriesFailedSettlementHooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.KindSubscription, []scriptStep{{status: payment.GatewaySuccessful}}, 12)

	events := &countingHook{}
	flaky := &failOnceHook{}
	rec := New(f.ledger, f.gateway, Config{Interval: 0, MaxAttempts: 12}, discardLogger(),
		WithHook("events", events), WithHook("fulfillment", flaky))

	// 1. Settles, but the fulfillment hook fails
	out, err := rec.Reconcile(ctx, f.payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusActive, out.Status)

	stored, err := f.ledger.Get(ctx, f.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, stored.HooksDone)
	assert.Nil(t, stored.HooksCompletedAt)

	// 2. A repeated signal does not touch the hooks
	_, err = rec.ApplySignal(ctx, "TXN1", payment.StatusReport{Status: payment.GatewaySuccessful})
	require.NoError(t, err)
	assert.Equal(t, 1, flaky.Calls())

	// 3. The sweeper reruns only the failed hook
	sweeper := NewSweeper(rec, f.ledger, DefaultSweeperConfig(rec.Config()), discardLogger())
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	summary, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Redelivered)
	assert.Equal(t, int64(0), summary.Errors)
	assert.Equal(t, 2, flaky.Calls())
	assert.Len(t, events.Seen(), 1)

	stored, err = f.ledger.Get(ctx, f.payment.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.HooksCompletedAt)
	assert.ElementsMatch(t, []string{"events", "fulfillment"}, stored.HooksDone)

	// 4. Nothing left to redeliver
	summary, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Redelivered)
	assert.Equal(t, 2, flaky.Calls())
}

func TestRedeliverRejectsOpenPayment(t *testing.T) {
	f := newFixture(t, payment.KindOrder, pending(1), 12)
	err := f.rec.Redeliver(context.Background(), f.payment)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
}
