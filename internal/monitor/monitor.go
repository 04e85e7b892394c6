// Package monitor polls the daemon for the payment status of one payment
// account until the order is paid, expires, fails permanently or the attempt
// budget runs out.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
	"github.com/punchamoorthee/kalatori/internal/logging"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 120
)

// Fetcher looks up an order by payment account. *kalatori.Client satisfies it.
type Fetcher interface {
	GetPaymentStatus(ctx context.Context, paymentAccount string) (*kalatori.Response[domain.OrderStatus], error)
}

// Publisher receives monitor events. *eventbus.InMemoryBus satisfies it.
type Publisher interface {
	Publish(domain.Event) error
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseTimedOut  Phase = "timed_out"
	PhaseAborted   Phase = "aborted"
	PhaseStopped   Phase = "stopped"
)

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// State is a point-in-time copy of the monitor.
type State struct {
	Account      string              `json:"account"`
	Phase        Phase               `json:"phase"`
	Attempts     int                 `json:"attempts"`
	LastStatus   *domain.OrderStatus `json:"last_status,omitempty"`
	LastError    error               `json:"-"`
	IsMonitoring bool                `json:"is_monitoring"`
	IsCompleted  bool                `json:"is_completed"`
	IsTimedOut   bool                `json:"is_timed_out"`
	IsAborted    bool                `json:"is_aborted"`
}

type Option func(*Monitor)

func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithPublisher(p Publisher) Option {
	return func(m *Monitor) { m.pub = p }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// Monitor runs at most one polling session at a time. Polls are strictly
// sequential: the next one is scheduled only after the previous response
// has been applied.
type Monitor struct {
	fetcher Fetcher
	cfg     Config
	clock   Clock
	pub     Publisher
	log     logging.Logger

	mu         sync.Mutex
	phase      Phase
	account    string
	attempts   int
	lastStatus *domain.OrderStatus
	lastErr    error

	// epoch changes on every Start and Stop; a poll applies its result only
	// if the epoch it was issued under is still current.
	epoch      uint64
	timer      Timer
	ctx        context.Context
	cancel     context.CancelFunc
	detach     func() bool
	done       chan struct{}
	queue      []domain.Event
	delivering bool
	// waiters are done channels of finished sessions, closed once the
	// events queued before them have been delivered.
	waiters []chan struct{}
}

func New(f Fetcher, cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	m := &Monitor{
		fetcher: f,
		cfg:     cfg,
		clock:   RealClock(),
		log:     logging.Nop{},
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Config() Config { return m.cfg }

// Start begins polling account. It returns false without changing anything
// if a session is already running or account is empty. The first poll is
// issued immediately on the clock, without waiting for the interval.
// Cancelling ctx ends the session as stopped.
func (m *Monitor) Start(ctx context.Context, account string) bool {
	m.mu.Lock()
	if m.phase == PhaseRunning || account == "" {
		m.mu.Unlock()
		return false
	}

	m.epoch++
	epoch := m.epoch
	m.account = account
	m.attempts = 0
	m.lastStatus = nil
	m.lastErr = nil
	m.phase = PhaseRunning
	m.done = make(chan struct{})
	activeSessions.Inc()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.detach = context.AfterFunc(m.ctx, func() { m.halt(epoch) })
	m.timer = m.clock.AfterFunc(0, func() { m.poll(epoch) })
	m.enqueue(m.event(domain.EventStarted))
	m.mu.Unlock()

	m.log.Info("payment monitor started", map[string]any{
		"account":      account,
		"interval":     m.cfg.Interval.String(),
		"max_attempts": m.cfg.MaxAttempts,
	})
	m.flush()
	return true
}

// Stop cancels the pending poll and discards any response still in flight.
// It reports whether a session was running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if m.phase != PhaseRunning {
		m.mu.Unlock()
		return false
	}
	m.epoch++
	m.finish(PhaseStopped)
	m.enqueue(m.event(domain.EventStopped))
	m.mu.Unlock()

	m.flush()
	return true
}

// Reset stops any session and returns the monitor to idle with no target.
func (m *Monitor) Reset() {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseIdle
	m.account = ""
	m.attempts = 0
	m.lastStatus = nil
	m.lastErr = nil
}

func (m *Monitor) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Wait blocks until the current session ends and its final event has been
// published, or ctx is done, then returns the state. It returns at once when
// no session was ever started. Event handlers must not call Wait.
func (m *Monitor) Wait(ctx context.Context) (State, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
	return m.Snapshot(), nil
}

// NonRecoverable reports whether err means the account will never resolve,
// which ends the session instead of retrying.
func NonRecoverable(err error) bool {
	switch kalatori.StatusCode(err) {
	case http.StatusBadRequest, http.StatusNotFound:
		return true
	}
	return false
}

func (m *Monitor) poll(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.phase != PhaseRunning {
		m.mu.Unlock()
		return
	}
	m.timer = nil

	if m.attempts >= m.cfg.MaxAttempts {
		m.finish(PhaseTimedOut)
		m.enqueue(m.event(domain.EventTimedOut))
		attempts, account := m.attempts, m.account
		m.mu.Unlock()

		m.log.Info("payment monitor gave up", map[string]any{"account": account, "attempts": attempts})
		m.flush()
		return
	}

	m.attempts++
	attempt, account, ctx := m.attempts, m.account, m.ctx
	m.mu.Unlock()

	timer := prometheus.NewTimer(pollDuration)
	resp, err := m.fetcher.GetPaymentStatus(ctx, account)
	timer.ObserveDuration()

	m.mu.Lock()
	if epoch != m.epoch || m.phase != PhaseRunning {
		m.mu.Unlock()
		pollsTotal.WithLabelValues("discarded").Inc()
		return
	}
	if ctx.Err() != nil {
		m.finish(PhaseStopped)
		m.enqueue(m.event(domain.EventStopped))
		m.mu.Unlock()
		pollsTotal.WithLabelValues("cancelled").Inc()
		m.flush()
		return
	}

	if err != nil {
		m.lastErr = err
		errEvt := m.event(domain.EventError)
		errEvt.Err = err
		m.enqueue(errEvt)

		if NonRecoverable(err) {
			m.finish(PhaseAborted)
			abortEvt := m.event(domain.EventAborted)
			abortEvt.Err = err
			m.enqueue(abortEvt)
			pollsTotal.WithLabelValues("aborted").Inc()
		} else {
			m.schedule(epoch)
			pollsTotal.WithLabelValues("error").Inc()
		}
		m.mu.Unlock()

		m.log.Error("payment status poll failed", map[string]any{
			"account": account,
			"attempt": attempt,
			"kind":    kalatori.Kind(err),
			"status":  kalatori.StatusCode(err),
			"error":   err,
		})
		m.flush()
		return
	}

	status := resp.Data
	m.lastStatus = &status
	m.lastErr = nil
	update := &domain.PaymentStatusUpdate{
		OrderID:        status.Order,
		PaymentAccount: account,
		Status:         status,
		Timestamp:      m.clock.Now(),
	}
	evt := m.event(domain.EventUpdate)
	evt.Update = update
	m.enqueue(evt)

	unknown := false
	switch status.PaymentStatus {
	case domain.PaymentPaid:
		m.finish(PhaseCompleted)
	case domain.PaymentTimedOut:
		m.finish(PhaseTimedOut)
	case domain.PaymentPending:
		m.schedule(epoch)
	default:
		unknown = true
		m.schedule(epoch)
	}
	if status.PaymentStatus.Terminal() {
		done := m.event(domain.EventCompleted)
		done.Update = update
		m.enqueue(done)
		pollsTotal.WithLabelValues("terminal").Inc()
	} else if unknown {
		pollsTotal.WithLabelValues("unknown").Inc()
	} else {
		pollsTotal.WithLabelValues("pending").Inc()
	}
	m.mu.Unlock()

	if unknown {
		m.log.Error("unknown payment status, polling on", map[string]any{
			"account":        account,
			"attempt":        attempt,
			"payment_status": string(status.PaymentStatus),
		})
	}
	m.log.Info("payment status polled", map[string]any{
		"account":        account,
		"attempt":        attempt,
		"payment_status": string(status.PaymentStatus),
	})
	m.flush()
}

// halt ends the session when the context passed to Start is cancelled.
func (m *Monitor) halt(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.phase != PhaseRunning {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.finish(PhaseStopped)
	m.enqueue(m.event(domain.EventStopped))
	m.mu.Unlock()

	m.flush()
}

// schedule arms the next poll. Caller holds mu.
func (m *Monitor) schedule(epoch uint64) {
	m.timer = m.clock.AfterFunc(m.cfg.Interval, func() { m.poll(epoch) })
}

// finish ends the running session in phase. Caller holds mu.
func (m *Monitor) finish(phase Phase) {
	m.phase = phase
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.done != nil {
		m.waiters = append(m.waiters, m.done)
	}
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(string(phase)).Inc()
}

func (m *Monitor) snapshotLocked() State {
	st := State{
		Account:      m.account,
		Phase:        m.phase,
		Attempts:     m.attempts,
		LastError:    m.lastErr,
		IsMonitoring: m.phase == PhaseRunning,
		IsCompleted:  m.phase == PhaseCompleted,
		IsTimedOut:   m.phase == PhaseTimedOut,
		IsAborted:    m.phase == PhaseAborted,
	}
	if m.lastStatus != nil {
		s := *m.lastStatus
		st.LastStatus = &s
	}
	return st
}

func (m *Monitor) event(t domain.EventType) domain.Event {
	return domain.Event{
		Type:     t,
		Account:  m.account,
		Attempts: m.attempts,
		At:       m.clock.Now(),
	}
}

func (m *Monitor) enqueue(evt domain.Event) {
	m.queue = append(m.queue, evt)
}

// flush delivers queued events in order. Only one goroutine delivers at a
// time; events queued by handlers are picked up by the same loop.
func (m *Monitor) flush() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.queue) > 0 {
		evt := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		if m.pub != nil {
			if err := m.pub.Publish(evt); err != nil {
				m.log.Error("monitor event handler failed", map[string]any{
					"event":   string(evt.Type),
					"account": evt.Account,
					"error":   err,
				})
			}
		}

		m.mu.Lock()
	}
	m.delivering = false
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
	m.mu.Unlock()
}
