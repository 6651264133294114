// internal/notify/bridge.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/events"
)

const (
	EmailQueue = "email_jobs"
	SMSQueue   = "sms_jobs"
)

// Job is one email or SMS to send. ID is stable across redeliveries of the
// source event.
type Job struct {
	ID      string                `json:"id"`
	Type    string                `json:"type"`
	Event   string                `json:"event"`
	Payload events.PaymentPayload `json:"payload"`
}

type JobPublisher interface {
	Publish(ctx context.Context, queueName, messageID string, body []byte) error
}

// route lists the jobs a payment event turns into.
var route = map[string][]struct{ queue, jobType string }{
	events.EventPaymentSettled: {
		{EmailQueue, "payment_receipt"},
		{SMSQueue, "payment_receipt_sms"},
	},
	events.EventPaymentFailed: {
		{EmailQueue, "payment_failed"},
	},
	events.EventPaymentExpired: {
		{EmailQueue, "payment_expired"},
	},
}

// Bridge translates payment events from Kafka into receipt jobs on RabbitMQ.
type Bridge struct {
	pub    JobPublisher
	logger *slog.Logger
}

func NewBridge(pub JobPublisher, logger *slog.Logger) *Bridge {
	return &Bridge{pub: pub, logger: logger.With(slog.String("component", "receipts.bridge"))}
}

// Handle matches events.Handler. Malformed messages are dropped; publish
// failures are returned so the consumer retries.
func (b *Bridge) Handle(ctx context.Context, key, value []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		b.logger.Error("dropping malformed event", slog.String("key", string(key)), slog.Any("error", err))
		return nil
	}
	targets, ok := route[env.Event]
	if !ok {
		return nil
	}
	eventID := env.EventID
	if eventID == "" {
		eventID = events.EventID(env.Payload.PaymentID, env.Event)
	}
	for _, t := range targets {
		job := Job{ID: eventID + ":" + t.jobType, Type: t.jobType, Event: env.Event, Payload: env.Payload}
		body, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal %s job: %w", t.jobType, err)
		}
		if err := b.pub.Publish(ctx, t.queue, job.ID, body); err != nil {
			return fmt.Errorf("publish %s job: %w", t.jobType, err)
		}
		b.logger.Info("job queued",
			slog.String("queue", t.queue),
			slog.String("type", t.jobType),
			slog.String("payment_id", env.Payload.PaymentID))
	}
	return nil
}
