package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/ledger"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/lock"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/store/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway answers status queries from a script; the last entry repeats.
type scriptedGateway struct {
	mu      sync.Mutex
	script  []scriptStep
	calls   int
	onQuery func(call int)
}

type scriptStep struct {
	status payment.GatewayStatus
	err    error
}

func (g *scriptedGateway) Status(ctx context.Context, reference string) (payment.StatusReport, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	step := g.script[len(g.script)-1]
	if call <= len(g.script) {
		step = g.script[call-1]
	}
	hook := g.onQuery
	g.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if step.err != nil {
		return payment.StatusReport{}, step.err
	}
	return payment.StatusReport{Status: step.status}, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func pending(n int) []scriptStep {
	steps := make([]scriptStep, n)
	for i := range steps {
		steps[i] = scriptStep{status: payment.GatewayPending}
	}
	return steps
}

type countingHook struct {
	mu   sync.Mutex
	seen []payment.Status
}

func (h *countingHook) OnTerminal(ctx context.Context, p *payment.PendingPayment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, p.Status)
	return nil
}

func (h *countingHook) Seen() []payment.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]payment.Status(nil), h.seen...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ledger  *ledger.Ledger
	gateway *scriptedGateway
	hook    *countingHook
	rec     *Reconciler
	payment *payment.PendingPayment
}

func newFixture(t *testing.T, kind payment.Kind, script []scriptStep, maxAttempts int) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(memory.NewPaymentStore(), lock.NewKeyedMutex(), discardLogger())
	amt := decimal.NewFromInt(100)
	p, err := l.EnsurePending(ctx, ledger.Intent{
		OwnerID:   "user-1",
		SubjectID: "subject-1",
		Kind:      kind,
		Breakdown: payment.Breakdown{Gross: amt, FeeAmount: decimal.Zero, Net: amt, TotalCharged: amt, Mode: payment.FeeModeInclusive},
		Currency:  "ZMW",
		Method:    payment.MethodMobileMoney,
		Provider:  payment.ProviderMTN,
	})
	require.NoError(t, err)
	p, err = l.AttachReference(ctx, p.ID, ledger.Attachment{Reference: "TXN1"})
	require.NoError(t, err)

	gw := &scriptedGateway{script: script}
	hook := &countingHook{}
	rec := New(l, gw, Config{Interval: 0, MaxAttempts: maxAttempts}, discardLogger(), WithHook("counting", hook))
	return &fixture{ledger: l, gateway: gw, hook: hook, rec: rec, payment: p}
}

func TestReconcileSucceedsAfterPendingPolls(t *testing.T) {
	f := newFixture(t, payment.KindSubscription,
		append(pending(5), scriptStep{status: payment.GatewaySuccessful}), 12)

	var progress []Progress
	out, err := f.rec.Reconcile(context.Background(), f.payment.ID, func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusActive, out.Status)
	assert.Equal(t, 6, f.gateway.Calls())
	assert.Equal(t, 6, out.Attempts)
	assert.Equal(t, []payment.Status{payment.StatusActive}, f.hook.Seen())

	// first report is the pending_confirmation state before any poll
	require.NotEmpty(t, progress)
	assert.Equal(t, payment.StatusPendingConfirmation, progress[0].Status)
	assert.Equal(t, 0, progress[0].Attempt)
	assert.Equal(t, 6, progress[len(progress)-1].Attempt)
}

func TestReconcileExpiresWhenBudgetRunsOut(t *testing.T) {
	f := newFixture(t, payment.KindOrder, pending(1), 12)

	out, err := f.rec.Reconcile(context.Background(), f.payment.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusExpired, out.Status)
	assert.Equal(t, 12, f.gateway.Calls())
	assert.Equal(t, []payment.Status{payment.StatusExpired}, f.hook.Seen())
}

func TestReconcileFailure(t *testing.T) {
	f := newFixture(t, payment.KindDonation, []scriptStep{{status: payment.GatewayFailed}}, 12)

	out, err := f.rec.Reconcile(context.Background(), f.payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, out.Status)
	assert.Equal(t, "declined by gateway", out.Reason)
}

func TestTransientErrorsCountTowardsBudget(t *testing.T) {
	f := newFixture(t, payment.KindOrder, []scriptStep{
		{err: payment.ErrGatewayUnavailable},
		{err: errors.New("connection reset")},
		{status: payment.GatewaySuccessful},
	}, 12)

	out, err := f.rec.Reconcile(context.Background(), f.payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, out.Status)
	assert.Equal(t, 3, out.Attempts)
}

func TestMisconfiguredGatewayStopsWithoutTerminalState(t *testing.T) {
	f := newFixture(t, payment.KindOrder, []scriptStep{{err: payment.ErrGatewayMisconfigured}}, 12)

	_, err := f.rec.Reconcile(context.Background(), f.payment.ID, nil)
	assert.ErrorIs(t, err, payment.ErrGatewayMisconfigured)

	stored, _ := f.ledger.Get(context.Background(), f.payment.ID)
	assert.Equal(t, payment.StatusPendingConfirmation, stored.Status)
	assert.Empty(t, f.hook.Seen())
}

func TestCancellationLeavesRecordOpen(t *testing.T) {
	f := newFixture(t, payment.KindSubscription, pending(1), 12)
	ctx, cancel := context.WithCancel(context.Background())

	f.gateway.onQuery = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	f.rec.wait = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}

	_, err := f.rec.Reconcile(ctx, f.payment.ID, nil)
	assert.ErrorIs(t, err, context.Canceled)

	stored, _ := f.ledger.Get(context.Background(), f.payment.ID)
	assert.False(t, stored.Status.IsTerminal())
	assert.Empty(t, f.hook.Seen())
}

func TestWebhookResolvesWhilePolling(t *testing.T) {
	f := newFixture(t, payment.KindSubscription, pending(1), 12)
	ctx := context.Background()

	f.gateway.onQuery = func(call int) {
		if call == 2 {
			_, err := f.rec.ApplySignal(ctx, "TXN1", payment.StatusReport{Status: payment.GatewaySuccessful})
			assert.NoError(t, err)
		}
	}

	out, err := f.rec.Reconcile(ctx, f.payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusActive, out.Status)
	// the poller sees the ledger's terminal state and stops without another query
	assert.Equal(t, 2, f.gateway.Calls())
	assert.Len(t, f.hook.Seen(), 1, "hooks fire once")
}

func TestApplySignalIsIdempotent(t *testing.T) {
	f := newFixture(t, payment.KindOrder, pending(1), 12)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := f.rec.ApplySignal(ctx, "TXN1", payment.StatusReport{Status: payment.GatewaySuccessful})
		require.NoError(t, err)
		assert.Equal(t, payment.StatusSucceeded, out.Status)
	}
	assert.Len(t, f.hook.Seen(), 1)

	_, err := f.rec.ApplySignal(ctx, "UNKNOWN", payment.StatusReport{Status: payment.GatewaySuccessful})
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestLateSuccessAfterExpiryIsReported(t *testing.T) {
	f := newFixture(t, payment.KindOrder, pending(1), 2)
	ctx := context.Background()

	out, err := f.rec.Reconcile(ctx, f.payment.ID, nil)
	require.NoError(t, err)
	require.Equal(t, payment.StatusExpired, out.Status)

	out, err = f.rec.ApplySignal(ctx, "TXN1", payment.StatusReport{Status: payment.GatewaySuccessful})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, out.Status, "terminal status is never overwritten")
}

func TestReconcileUnknownPayment(t *testing.T) {
	f := newFixture(t, payment.KindOrder, pending(1), 2)
	_, err := f.rec.Reconcile(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}
