package service

import (
	"context"
	"sync"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/eventbus"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
	"github.com/punchamoorthee/kalatori/internal/logging"
	"github.com/punchamoorthee/kalatori/internal/monitor"
)

// OrderClient is the subset of *kalatori.Client the payment flow needs.
type OrderClient interface {
	monitor.Fetcher
	CreateOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*kalatori.Response[domain.OrderStatus], error)
	UpdateOrder(ctx context.Context, orderID string, req domain.UpdateOrderRequest) (*kalatori.Response[domain.OrderStatus], error)
}

type Config struct {
	Monitor   monitor.Config
	AutoStart bool
}

type Option func(*PaymentService)

// WithBus shares an event bus between services, e.g. to attach one Recorder.
func WithBus(b *eventbus.InMemoryBus) Option {
	return func(s *PaymentService) { s.bus = b }
}

func WithLogger(l logging.Logger) Option {
	return func(s *PaymentService) { s.log = l }
}

func WithClock(c monitor.Clock) Option {
	return func(s *PaymentService) { s.clock = c }
}

// PaymentService creates an order and monitors its payment account as one
// flow. It tracks a single order at a time.
type PaymentService struct {
	client    OrderClient
	autoStart bool
	bus       *eventbus.InMemoryBus
	log       logging.Logger
	clock     monitor.Clock
	monitor   *monitor.Monitor

	// lifetime bounds monitoring sessions; request contexts do not.
	lifetime context.Context
	cancel   context.CancelFunc

	// opMu serializes create/update/reset so a create and its monitor start
	// are never interleaved with another operation.
	opMu sync.Mutex

	mu       sync.RWMutex
	order    *domain.OrderStatus
	creating bool
	orderErr error
}

// Snapshot is the combined view of the order and its monitor.
type Snapshot struct {
	Order         *domain.OrderStatus  `json:"order,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	Creating      bool                 `json:"creating"`
	Monitor       monitor.State        `json:"monitor"`
	Error         error                `json:"-"`
}

func NewPaymentService(client OrderClient, cfg Config, opts ...Option) *PaymentService {
	s := &PaymentService{
		client:    client,
		autoStart: cfg.AutoStart,
		log:       logging.Nop{},
		clock:     monitor.RealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = eventbus.NewInMemoryBus()
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	s.monitor = monitor.New(client, cfg.Monitor,
		monitor.WithClock(s.clock),
		monitor.WithPublisher(s.bus),
		monitor.WithLogger(s.log),
	)
	return s
}

// CreateOrder registers the order and, with auto-start on, points the
// monitor at the returned payment account before the order becomes visible
// through Snapshot. An order the daemon reports as already resolved is not
// monitored.
func (s *PaymentService) CreateOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*domain.OrderStatus, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.creating = true
	s.orderErr = nil
	s.mu.Unlock()

	st, err := s.createOrder(ctx, orderID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = false
	if err != nil {
		s.orderErr = err
		return nil, err
	}
	s.order = st
	return copyStatus(st), nil
}

func (s *PaymentService) createOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*domain.OrderStatus, error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := s.client.CreateOrder(ctx, orderID, req)
	if err != nil {
		s.log.Error("order creation failed", map[string]any{
			"order_id": orderID,
			"kind":     kalatori.Kind(err),
			"status":   kalatori.StatusCode(err),
			"error":    err,
		})
		return nil, err
	}
	st := resp.Data

	s.log.Info("order created", map[string]any{
		"order_id":        st.Order,
		"payment_account": st.PaymentAccount,
		"payment_status":  string(st.PaymentStatus),
		"http_status":     resp.Status,
	})

	if s.autoStart && !st.PaymentStatus.Terminal() {
		s.monitor.Stop()
		s.monitor.Start(s.lifetime, st.PaymentAccount)
	}
	return &st, nil
}

// UpdateOrder changes the current order at the daemon.
func (s *PaymentService) UpdateOrder(ctx context.Context, orderID string, req domain.UpdateOrderRequest) (*domain.OrderStatus, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	resp, err := s.client.UpdateOrder(ctx, orderID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.orderErr = err
		return nil, err
	}
	st := resp.Data
	s.orderErr = nil
	if s.order == nil || s.order.Order == st.Order {
		s.order = &st
	}
	return copyStatus(&st), nil
}

// StartMonitoring starts the monitor on account, or on the current order's
// payment account when account is empty.
func (s *PaymentService) StartMonitoring(account string) bool {
	if account == "" {
		s.mu.RLock()
		if s.order != nil {
			account = s.order.PaymentAccount
		}
		s.mu.RUnlock()
	}
	return s.monitor.Start(s.lifetime, account)
}

func (s *PaymentService) StopMonitoring() bool {
	return s.monitor.Stop()
}

// Reset stops monitoring and forgets the order. Safe from any state.
func (s *PaymentService) Reset() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.monitor.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.creating = false
	s.orderErr = nil
}

// ClearError drops the current error without touching other state.
func (s *PaymentService) ClearError() {
	s.mu.Lock()
	s.orderErr = nil
	s.mu.Unlock()
	s.monitor.ClearError()
}

// Error is the order error when there is one, otherwise the monitor's.
func (s *PaymentService) Error() error {
	s.mu.RLock()
	err := s.orderErr
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.monitor.Snapshot().LastError
}

func (s *PaymentService) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Order:    copyStatus(s.order),
		Creating: s.creating,
		Error:    s.orderErr,
	}
	s.mu.RUnlock()

	snap.Monitor = s.monitor.Snapshot()
	if snap.Error == nil {
		snap.Error = snap.Monitor.LastError
	}
	switch {
	case snap.Monitor.LastStatus != nil && snap.Order != nil &&
		snap.Monitor.LastStatus.PaymentAccount == snap.Order.PaymentAccount:
		snap.PaymentStatus = snap.Monitor.LastStatus.PaymentStatus
	case snap.Order != nil:
		snap.PaymentStatus = snap.Order.PaymentStatus
	}
	return snap
}

func (s *PaymentService) Monitor() *monitor.Monitor { return s.monitor }

func (s *PaymentService) Events() *eventbus.InMemoryBus { return s.bus }

// Close ends any monitoring session for good.
func (s *PaymentService) Close() {
	s.cancel()
	s.monitor.Stop()
}

func copyStatus(st *domain.OrderStatus) *domain.OrderStatus {
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}
