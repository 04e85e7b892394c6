package service

import (
	"context"
	"sync"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

// Tracker runs one PaymentService per order so a server can follow many
// orders at once. Sessions holding an order whose monitor has stopped are
// pruned on the next create.
type Tracker struct {
	newSession func() *PaymentService

	mu       sync.Mutex
	sessions map[string]*PaymentService
}

func NewTracker(newSession func() *PaymentService) *Tracker {
	return &Tracker{
		newSession: newSession,
		sessions:   make(map[string]*PaymentService),
	}
}

func (t *Tracker) CreateOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*domain.OrderStatus, error) {
	t.mu.Lock()
	t.pruneLocked()
	sess, ok := t.sessions[orderID]
	if !ok {
		sess = t.newSession()
		t.sessions[orderID] = sess
	}
	t.mu.Unlock()

	st, err := sess.CreateOrder(ctx, orderID, req)
	if err != nil && !ok {
		t.mu.Lock()
		if t.sessions[orderID] == sess {
			delete(t.sessions, orderID)
		}
		t.mu.Unlock()
		sess.Close()
	}
	return st, err
}

func (t *Tracker) Session(orderID string) (*PaymentService, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[orderID]
	return s, ok
}

// Active counts orders still being monitored.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.sessions {
		if s.Monitor().Snapshot().IsMonitoring {
			n++
		}
	}
	return n
}

func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		s.Close()
		delete(t.sessions, id)
	}
}

func (t *Tracker) pruneLocked() {
	for id, s := range t.sessions {
		snap := s.Snapshot()
		if snap.Order != nil && !snap.Creating && !snap.Monitor.IsMonitoring {
			s.Close()
			delete(t.sessions, id)
		}
	}
}

// Monitoring reports whether orderID has a running monitor.
func (t *Tracker) Monitoring(orderID string) bool {
	sess, ok := t.Session(orderID)
	return ok && sess.Monitor().Snapshot().IsMonitoring
}
