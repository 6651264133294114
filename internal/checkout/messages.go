// internal/checkout/messages.go
package checkout

import (
	"context"
	"errors"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

// User facing messages. Gateway bodies and internal errors stay in the logs.
const (
	MsgInvalidInput   = "Please check the payment details and try again."
	MsgInvalidPhone   = "The phone number does not match the selected mobile money provider."
	MsgInvalidAmount  = "The amount is outside the allowed range."
	MsgDeclined       = "The payment was declined. Please try another method."
	MsgGatewayDown    = "Payments are temporarily unavailable. Please try again shortly."
	MsgAlreadyPaid    = "This has already been paid for."
	MsgAlreadyActive  = "You already have an active subscription for this plan."
	MsgExpired        = "We could not confirm your payment in time. If money left your account it will be reconciled automatically."
	MsgNotFound       = "We could not find that payment."
	MsgCancelled      = "Payment confirmation was stopped. You can check its status later."
	MsgSomethingWrong = "Something went wrong, please try again later."
)

// UserMessage maps an error to a message safe to show. It never includes
// the underlying error text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, payment.ErrInvalidPhoneNumber):
		return MsgInvalidPhone
	case errors.Is(err, payment.ErrInvalidAmount):
		return MsgInvalidAmount
	case errors.Is(err, payment.ErrValidation), errors.Is(err, payment.ErrInvalidFeePercentage),
		errors.Is(err, payment.ErrInvalidFeeMode):
		return MsgInvalidInput
	case errors.Is(err, payment.ErrGatewayRejected):
		return MsgDeclined
	case errors.Is(err, payment.ErrGatewayUnavailable), errors.Is(err, payment.ErrGatewayMisconfigured):
		// misconfiguration is an operator problem; users just see an outage
		return MsgGatewayDown
	case errors.Is(err, payment.ErrActiveConflict):
		return MsgAlreadyPaid
	case errors.Is(err, payment.ErrExpiredConfirmation):
		return MsgExpired
	case errors.Is(err, payment.ErrPaymentNotFound):
		return MsgNotFound
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	default:
		// reference conflicts, invalid transitions, version conflicts
		return MsgSomethingWrong
	}
}

// StatusMessage describes a payment status to its payer.
func StatusMessage(kind payment.Kind, status payment.Status) string {
	switch status {
	case payment.StatusDraft:
		return "Payment not started yet."
	case payment.StatusAwaitingGateway:
		return "Waiting for you to approve the payment."
	case payment.StatusPendingConfirmation:
		return "Confirming your payment..."
	case payment.StatusActive, payment.StatusSucceeded:
		switch kind {
		case payment.KindDonation:
			return "Thank you, your donation was received."
		case payment.KindSubscription:
			return "Your subscription is now active."
		}
		return "Payment successful. Your order is confirmed."
	case payment.StatusFailed:
		return MsgDeclined
	case payment.StatusExpired:
		return MsgExpired
	}
	return MsgSomethingWrong
}
