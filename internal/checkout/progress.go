// internal/checkout/progress.go
package checkout

import (
	"sync"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/google/uuid"
)

// ProgressHub fans confirmation progress out to subscribers (the SSE
// endpoint). Slow subscribers drop intermediate updates, never block the
// reconciler.
type ProgressHub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan reconciler.Progress]struct{}
	latest map[uuid.UUID]reconciler.Progress
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs:   make(map[uuid.UUID]map[chan reconciler.Progress]struct{}),
		latest: make(map[uuid.UUID]reconciler.Progress),
	}
}

// Subscribe returns a channel of updates for id, primed with the latest one
// when known. The channel is closed by Close or by the returned cancel func.
func (h *ProgressHub) Subscribe(id uuid.UUID) (<-chan reconciler.Progress, func()) {
	ch := make(chan reconciler.Progress, 16)

	h.mu.Lock()
	if last, ok := h.latest[id]; ok {
		ch <- last
	}
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan reconciler.Progress]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id][ch]; ok {
				delete(h.subs[id], ch)
				close(ch)
			}
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
		})
	}
}

func (h *ProgressHub) Publish(p reconciler.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[p.PaymentID] = p
	for ch := range h.subs[p.PaymentID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// Close ends all subscriptions for id and forgets its latest update.
func (h *ProgressHub) Close(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		close(ch)
	}
	delete(h.subs, id)
	delete(h.latest, id)
}
