package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/google/uuid"
	skafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeWriter records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaProducerWithWriter(fw, discard())
	err := p.Publish(context.Background(), "key1", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "key1", string(fw.msgs[0].Key))
	assert.JSONEq(t, `{"a":"b"}`, string(fw.msgs[0].Value))
}

func TestPublishWriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaProducerWithWriter(fw, discard())
	assert.Error(t, p.Publish(context.Background(), "k", 1))
}

func settled(kind payment.Kind) *payment.PendingPayment {
	return &payment.PendingPayment{
		ID:               uuid.New(),
		Kind:             kind,
		OwnerID:          "user-1",
		SubjectID:        "plan-pro",
		AmountGross:      decimal.NewFromInt(100),
		FeeAmount:        decimal.NewFromInt(5),
		AmountNet:        decimal.NewFromInt(100),
		TotalCharged:     decimal.NewFromInt(105),
		Currency:         "ZMW",
		Method:           payment.MethodMobileMoney,
		Provider:         payment.ProviderMTN,
		GatewayReference: "TXN1",
		Status:           payment.SettledStatusFor(kind),
	}
}

func decode(t *testing.T, m skafka.Message) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	return env
}

func TestPaymentEventsOnTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status payment.Status
		event  string
	}{
		{"active", payment.StatusActive, EventPaymentSettled},
		{"succeeded", payment.StatusSucceeded, EventPaymentSettled},
		{"failed", payment.StatusFailed, EventPaymentFailed},
		{"expired", payment.StatusExpired, EventPaymentExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := &fakeWriter{}
			pe := NewPaymentEvents(NewKafkaProducerWithWriter(fw, discard()), discard())
			p := settled(payment.KindSubscription)
			p.Status = tt.status

			require.NoError(t, pe.OnTerminal(context.Background(), p))
			require.Len(t, fw.msgs, 1)
			assert.Equal(t, p.ID.String(), string(fw.msgs[0].Key))
			env := decode(t, fw.msgs[0])
			assert.Equal(t, tt.event, env.Event)
			assert.Equal(t, p.ID.String()+":"+tt.event, env.EventID)
			assert.Equal(t, "105.00", env.Payload.TotalCharged)
			assert.Equal(t, "TXN1", env.Payload.Reference)
		})
	}
}

func TestPaymentEventsIgnoresOpenStatus(t *testing.T) {
	fw := &fakeWriter{}
	pe := NewPaymentEvents(NewKafkaProducerWithWriter(fw, discard()), discard())
	p := settled(payment.KindOrder)
	p.Status = payment.StatusPendingConfirmation
	require.NoError(t, pe.OnTerminal(context.Background(), p))
	assert.Empty(t, fw.msgs)
}

func TestPaymentEventsFulfill(t *testing.T) {
	want := map[payment.Kind]string{
		payment.KindSubscription: EventSubscriptionActivated,
		payment.KindOrder:        EventOrderPaid,
		payment.KindDonation:     EventDonationRecorded,
	}
	for kind, event := range want {
		fw := &fakeWriter{}
		pe := NewPaymentEvents(NewKafkaProducerWithWriter(fw, discard()), discard())
		require.NoError(t, pe.Fulfill(context.Background(), settled(kind)))
		require.Len(t, fw.msgs, 1)
		assert.Equal(t, event, decode(t, fw.msgs[0]).Event, kind)
	}
}

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []skafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (skafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return skafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...skafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	r := &fakeReader{queue: []skafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}}}
	c := NewConsumerWithReader(r, discard())
	c.backoff = time.Millisecond
	c.maxAttempts = 3

	var mu sync.Mutex
	calls := map[string]int{}
	handler := func(ctx context.Context, key, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls[string(value)]++
		if string(value) == "a" && calls["a"] < 2 {
			return errors.New("rabbit down")
		}
		if string(value) == "b" {
			return errors.New("poison")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx, handler)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls["a"])
	assert.Equal(t, 3, calls["b"], "poison message is given up after maxAttempts")
}
