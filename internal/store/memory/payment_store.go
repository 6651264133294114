// internal/store/memory/payment_store.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/google/uuid"
)

type pairKey struct {
	owner, subject string
}

// PaymentStore keeps pending payments in process memory. It enforces the same
// uniqueness rules as the postgres schema: one open record per pair and a
// unique gateway reference.
type PaymentStore struct {
	mu          sync.RWMutex
	payments    map[uuid.UUID]*payment.PendingPayment
	open        map[pairKey]uuid.UUID
	byReference map[string]uuid.UUID
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments:    make(map[uuid.UUID]*payment.PendingPayment),
		open:        make(map[pairKey]uuid.UUID),
		byReference: make(map[string]uuid.UUID),
	}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *PaymentStore) Create(ctx context.Context, p *payment.PendingPayment) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{p.OwnerID, p.SubjectID}
	if !p.Status.IsTerminal() {
		if _, exists := s.open[key]; exists {
			return payment.ErrDuplicatePending
		}
	}
	if _, exists := s.payments[p.ID]; exists {
		return payment.ErrDuplicatePending
	}

	stored := p.Clone()
	s.payments[p.ID] = stored
	if !p.Status.IsTerminal() {
		s.open[key] = p.ID
	}
	if p.GatewayReference != "" {
		s.byReference[p.GatewayReference] = p.ID
	}
	return nil
}

func (s *PaymentStore) Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

func (s *PaymentStore) FindOpen(ctx context.Context, ownerID, subjectID string) (*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[pairKey{ownerID, subjectID}]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return s.payments[id].Clone(), nil
}

func (s *PaymentStore) FindSettled(ctx context.Context, ownerID, subjectID string) (*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.OwnerID == ownerID && p.SubjectID == subjectID && p.Status.IsSettled() {
			return p.Clone(), nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *PaymentStore) FindByReference(ctx context.Context, reference string) (*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReference[reference]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return s.payments[id].Clone(), nil
}

func (s *PaymentStore) Update(ctx context.Context, p *payment.PendingPayment, expectedVersion int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[p.ID]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	if current.Version != expectedVersion {
		return payment.ErrVersionConflict
	}
	if p.GatewayReference != "" {
		if owner, taken := s.byReference[p.GatewayReference]; taken && owner != p.ID {
			return payment.ErrReferenceConflict
		}
	}

	p.Version = expectedVersion + 1
	stored := p.Clone()
	s.payments[p.ID] = stored

	key := pairKey{p.OwnerID, p.SubjectID}
	if stored.Status.IsTerminal() {
		if s.open[key] == p.ID {
			delete(s.open, key)
		}
	}
	if stored.GatewayReference != "" {
		s.byReference[stored.GatewayReference] = p.ID
	}
	return nil
}

func (s *PaymentStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var result []*payment.PendingPayment
	for _, id := range s.open {
		p := s.payments[id]
		if p.UpdatedAt.Before(olderThan) {
			result = append(result, p.Clone())
		}
	}
	s.mu.RUnlock()

	// oldest first
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *PaymentStore) ListUnfinished(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var result []*payment.PendingPayment
	for _, p := range s.payments {
		if p.Status.IsTerminal() && p.HooksCompletedAt == nil && p.UpdatedAt.Before(olderThan) {
			result = append(result, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
