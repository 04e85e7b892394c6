package store

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

type Memory struct {
	mu        sync.RWMutex
	orders    map[string]*Record
	byAccount map[string]string
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*Record),
		byAccount: make(map[string]string),
		now:       time.Now,
	}
}

func (m *Memory) SaveStatus(_ context.Context, st domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.orders[st.Order]
	var current *domain.OrderStatus
	if existing != nil {
		current = &existing.Status
	}

	write, err := checkTransition(current, st)
	if err != nil || !write {
		return false, err
	}

	now := m.now().UTC()
	rec := &Record{Status: merge(current, st), CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}
	m.orders[st.Order] = rec
	if rec.Status.PaymentAccount != "" {
		m.byAccount[rec.Status.PaymentAccount] = st.Order
	}
	return true, nil
}

func (m *Memory) GetOrder(_ context.Context, orderID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) GetByAccount(ctx context.Context, paymentAccount string) (*Record, error) {
	m.mu.RLock()
	id, ok := m.byAccount[paymentAccount]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return m.GetOrder(ctx, id)
}

func (m *Memory) Close() error { return nil }
