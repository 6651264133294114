// internal/notify/worker.go
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Sender delivers one job, e.g. through an email or SMS provider.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

type SenderFunc func(ctx context.Context, job Job) error

func (f SenderFunc) Send(ctx context.Context, job Job) error { return f(ctx, job) }

// LogSender only logs the job. It stands in until a provider is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, job Job) error {
	s.Logger.Info("notification sent",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.String("payment_id", job.Payload.PaymentID),
		slog.String("owner_id", job.Payload.OwnerID))
	return nil
}

// Worker drains one queue.
type Worker struct {
	queue  string
	sender Sender
	logger *slog.Logger
}

func NewWorker(queue string, sender Sender, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, sender: sender, logger: logger.With(slog.String("component", "notify.worker"), slog.String("queue", queue))}
}

// Run processes deliveries until ctx is cancelled or the channel closes.
// Undecodable jobs are rejected without requeue; send failures are requeued.
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stop signal received")
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			w.process(ctx, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.Error("rejecting malformed job", slog.Any("error", err))
		if err := d.Reject(false); err != nil {
			w.logger.Error("reject failed", slog.Any("error", err))
		}
		return
	}
	if err := w.sender.Send(ctx, job); err != nil {
		w.logger.Warn("send failed, requeueing", slog.String("type", job.Type), slog.Any("error", err))
		if err := d.Nack(false, true); err != nil {
			w.logger.Error("nack failed", slog.Any("error", err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		w.logger.Error("ack failed", slog.Any("error", err))
	}
}
