// internal/payment/retry_policy.go
package payment

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// IsRetryable reports whether the caller may run the same step again with the
// same idempotency key. Rejections and misconfiguration are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGatewayMisconfigured) || errors.Is(err, ErrGatewayRejected) ||
		errors.Is(err, ErrInvalidPhoneNumber) {
		return false
	}
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrVersionConflict) ||
		isRetryableNetworkError(err) ||
		isRetryableSystemError(err)
}

func isRetryableNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isRetryableSystemError(err error) bool {
	// connection refused / reset
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
