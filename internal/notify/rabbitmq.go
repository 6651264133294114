// internal/notify/rabbitmq.go
package notify

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker refuses to take a job.
var ErrPublishNacked = errors.New("broker nacked publish")

// RabbitmqClient holds one connection and one confirm-mode channel to the
// broker. Publish returns only after the broker has taken the message.
type RabbitmqClient struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

// NewClient connects, declares the given durable queues and switches the
// channel into publisher confirm mode.
func NewClient(url string, queues ...string) (*RabbitmqClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	r := &RabbitmqClient{conn: conn, chn: chn}
	for _, q := range queues {
		if err := r.declare(q); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	if err := chn.Confirm(false); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return r, nil
}

func (r *RabbitmqClient) Close() error {
	if err := r.chn.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

func (r *RabbitmqClient) declare(queueName string) error {
	_, err := r.chn.QueueDeclare(
		queueName,
		true,  //durable
		false, //delete when unused
		false, //exclusive
		false, //no-wait
		nil,
	)
	return err
}

// Publish sends a persistent JSON job to queueName on the default exchange
// and waits for the broker's confirm. messageID lets workers spot repeats.
func (r *RabbitmqClient) Publish(ctx context.Context, queueName, messageID string, body []byte) error {
	dc, err := r.chn.PublishWithDeferredConfirmWithContext(
		ctx,
		"",        //exchange
		queueName, //routing key
		false,     //mandatory
		false,     //immediate
		persistentJob(messageID, body),
	)
	if err != nil {
		return err
	}
	if dc == nil {
		return nil
	}
	return awaitConfirm(ctx, dc, queueName)
}

func persistentJob(messageID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
	}
}

// confirmation is the part of *amqp.DeferredConfirmation Publish waits on.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, c confirmation, queueName string) error {
	acked, err := c.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm on %s: %w", queueName, err)
	}
	if !acked {
		return fmt.Errorf("%s: %w", queueName, ErrPublishNacked)
	}
	return nil
}

// Consume delivers messages from queueName with manual acks.
func (r *RabbitmqClient) Consume(queueName string) (<-chan amqp.Delivery, error) {
	return r.chn.Consume(
		queueName,
		"",    //consumer
		false, //auto-ack
		false, //exclusive
		false, //no-local
		false, //no-wait
		nil,
	)
}
