// internal/payment/errors.go
package payment

import "errors"

// Standard checkout errors. Callers wrap them with %w and match with errors.Is.
var (
	ErrValidation           = errors.New("checkout input is invalid")
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrInvalidFeePercentage = errors.New("fee percentage must be between 0 and 100")
	ErrInvalidFeeMode       = errors.New("unknown fee mode")
	ErrInvalidPhoneNumber   = errors.New("phone number does not match the selected provider")

	ErrGatewayRejected      = errors.New("payment gateway rejected the charge")
	ErrGatewayUnavailable   = errors.New("payment gateway is currently unavailable")
	ErrGatewayMisconfigured = errors.New("payment gateway is not configured")

	ErrActiveConflict      = errors.New("subject already has an active or settled payment")
	ErrReferenceConflict   = errors.New("payment already carries a different gateway reference")
	ErrInvalidTransition   = errors.New("payment status transition is not allowed")
	ErrAlreadyTerminal     = errors.New("payment already reached a different terminal status")
	ErrExpiredConfirmation = errors.New("payment confirmation window expired")
	ErrPaymentNotFound     = errors.New("payment not found")

	// Store level concurrency errors. The ledger retries on them.
	ErrVersionConflict  = errors.New("payment was modified concurrently")
	ErrDuplicatePending = errors.New("an open payment already exists for this subject")
)
