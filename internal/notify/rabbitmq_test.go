package notify

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmation struct {
	acked bool
	err   error
}

func (f fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	return f.acked, f.err
}

func TestAwaitConfirm(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, awaitConfirm(ctx, fakeConfirmation{acked: true}, EmailQueue))

	err := awaitConfirm(ctx, fakeConfirmation{acked: false}, EmailQueue)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishNacked)
	assert.Contains(t, err.Error(), EmailQueue)

	err = awaitConfirm(ctx, fakeConfirmation{err: context.DeadlineExceeded}, SMSQueue)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPersistentJobCarriesMessageID(t *testing.T) {
	msg := persistentJob("p-1:payment.settled:payment_receipt", []byte(`{}`))

	assert.Equal(t, "p-1:payment.settled:payment_receipt", msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
}
