package checkout

import (
	"context"
	"testing"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hubSize(h *ProgressHub) (subs, latest int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs), len(h.latest)
}

func TestProgressHubPrimesAndFansOut(t *testing.T) {
	h := NewProgressHub()
	id := uuid.New()
	h.Publish(reconciler.Progress{PaymentID: id, Status: payment.StatusAwaitingGateway})

	ch, cancel := h.Subscribe(id)
	defer cancel()
	first := <-ch
	assert.Equal(t, payment.StatusAwaitingGateway, first.Status)

	h.Publish(reconciler.Progress{PaymentID: id, Status: payment.StatusPendingConfirmation})
	next := <-ch
	assert.Equal(t, payment.StatusPendingConfirmation, next.Status)

	h.Close(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestUnsubscribeForgetsPaymentWithNoSubscribers(t *testing.T) {
	h := NewProgressHub()
	id := uuid.New()

	_, cancelA := h.Subscribe(id)
	_, cancelB := h.Subscribe(id)
	cancelA()
	subs, _ := hubSize(h)
	assert.Equal(t, 1, subs)

	cancelB()
	cancelB()
	subs, _ = hubSize(h)
	assert.Equal(t, 0, subs)
}

func TestInitiateReleasesProgressState(t *testing.T) {
	tests := []struct {
		name string
		gw   *MockGateway
		want payment.Status
	}{
		{"settled", &MockGateway{reference: "TXN-P1", successOn: 1}, payment.StatusSucceeded},
		{"expired", &MockGateway{reference: "TXN-P2"}, payment.StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.gw, reconciler.Config{Interval: 0, MaxAttempts: 2})
			in := subscriptionInput()
			in.Kind = payment.KindOrder

			out, err := h.svc.Initiate(context.Background(), in, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)

			subs, latest := hubSize(h.svc.Progress())
			assert.Zero(t, subs)
			assert.Zero(t, latest)
		})
	}
}
