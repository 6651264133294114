// internal/payment/store.go
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists PendingPayment records. Implementations must return copies,
// never shared pointers.
type Store interface {
	// Create inserts a new record. Returns ErrDuplicatePending when an open
	// record already exists for the same (owner, subject).
	Create(ctx context.Context, p *PendingPayment) error
	Get(ctx context.Context, id uuid.UUID) (*PendingPayment, error)
	// FindOpen returns the non-terminal record for the pair or ErrPaymentNotFound.
	FindOpen(ctx context.Context, ownerID, subjectID string) (*PendingPayment, error)
	// FindSettled returns an active or succeeded record for the pair or ErrPaymentNotFound.
	FindSettled(ctx context.Context, ownerID, subjectID string) (*PendingPayment, error)
	FindByReference(ctx context.Context, reference string) (*PendingPayment, error)
	// Update writes p only if the stored version equals expectedVersion, then
	// sets p.Version to expectedVersion+1. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, p *PendingPayment, expectedVersion int64) error
	// ListStale returns non-terminal records last updated before olderThan,
	// oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*PendingPayment, error)
	// ListUnfinished returns terminal records whose settlement hooks have not
	// all succeeded, last updated before olderThan, oldest first.
	ListUnfinished(ctx context.Context, olderThan time.Time, limit int) ([]*PendingPayment, error)
}
