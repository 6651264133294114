package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type published struct {
	queue     string
	messageID string
	job       Job
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName, messageID string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{queue: queueName, messageID: messageID, job: job})
	return nil
}

func envelope(t *testing.T, event string) []byte {
	t.Helper()
	b, err := json.Marshal(events.Envelope{
		Event:   event,
		Payload: events.PaymentPayload{PaymentID: "p-1", OwnerID: "user-1", TotalCharged: "105.00"},
	})
	require.NoError(t, err)
	return b
}

func TestBridgeRoutesEvents(t *testing.T) {
	tests := []struct {
		event string
		want  []published
	}{
		{events.EventPaymentSettled, []published{
			{queue: EmailQueue, job: Job{Type: "payment_receipt"}},
			{queue: SMSQueue, job: Job{Type: "payment_receipt_sms"}},
		}},
		{events.EventPaymentFailed, []published{{queue: EmailQueue, job: Job{Type: "payment_failed"}}}},
		{events.EventPaymentExpired, []published{{queue: EmailQueue, job: Job{Type: "payment_expired"}}}},
		{events.EventOrderPaid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			pub := &fakePublisher{}
			b := NewBridge(pub, discard())
			require.NoError(t, b.Handle(context.Background(), []byte("p-1"), envelope(t, tt.event)))

			require.Len(t, pub.sent, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w.queue, pub.sent[i].queue)
				assert.Equal(t, w.job.Type, pub.sent[i].job.Type)
				assert.Equal(t, tt.event, pub.sent[i].job.Event)
				assert.Equal(t, "105.00", pub.sent[i].job.Payload.TotalCharged)
				assert.Equal(t, "p-1:"+tt.event+":"+w.job.Type, pub.sent[i].messageID)
				assert.Equal(t, pub.sent[i].messageID, pub.sent[i].job.ID)
			}
		})
	}
}

func TestBridgeKeysJobsByEventID(t *testing.T) {
	body, err := json.Marshal(events.Envelope{
		EventID: "evt-7",
		Event:   events.EventPaymentFailed,
		Payload: events.PaymentPayload{PaymentID: "p-1"},
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	b := NewBridge(pub, discard())
	require.NoError(t, b.Handle(context.Background(), nil, body))
	require.NoError(t, b.Handle(context.Background(), nil, body))

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "evt-7:payment_failed", pub.sent[0].messageID)
	assert.Equal(t, pub.sent[0].messageID, pub.sent[1].messageID)
}

func TestBridgeDropsMalformedAndReturnsPublishErrors(t *testing.T) {
	b := NewBridge(&fakePublisher{}, discard())
	assert.NoError(t, b.Handle(context.Background(), nil, []byte("{not json")))

	failing := NewBridge(&fakePublisher{err: errors.New("channel closed")}, discard())
	assert.Error(t, failing.Handle(context.Background(), nil, envelope(t, events.EventPaymentSettled)))
}

// fakeAck records how each delivery was settled.
type fakeAck struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	rejects []uint64
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, tag)
	return nil
}

func TestWorkerSettlesDeliveries(t *testing.T) {
	ack := &fakeAck{}
	good, _ := json.Marshal(Job{Type: "payment_receipt"})
	flaky, _ := json.Marshal(Job{Type: "payment_failed"})

	msgs := make(chan amqp.Delivery, 3)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: good}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("garbage")}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: flaky}
	close(msgs)

	sender := SenderFunc(func(ctx context.Context, job Job) error {
		if job.Type == "payment_failed" {
			return errors.New("smtp timeout")
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		NewWorker(EmailQueue, sender, discard()).Run(context.Background(), msgs)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after channel closed")
	}

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.rejects)
	assert.Equal(t, []uint64{3}, ack.nacked)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, LogSender{Logger: discard()}.Send(context.Background(), Job{Type: "payment_receipt"}))
}
