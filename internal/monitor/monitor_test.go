package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/eventbus"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
)

type reply struct {
	status domain.PaymentStatus
	err    error
}

// scriptedFetcher answers polls from a script, repeating the last entry
// once the script is exhausted.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []reply
	calls   int
	account []string
}

func (f *scriptedFetcher) GetPaymentStatus(_ context.Context, account string) (*kalatori.Response[domain.OrderStatus], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.script[min(f.calls, len(f.script)-1)]
	f.calls++
	f.account = append(f.account, account)
	if r.err != nil {
		return nil, r.err
	}
	return &kalatori.Response[domain.OrderStatus]{
		Data:   domain.OrderStatus{Order: "order-" + account, PaymentAccount: account, PaymentStatus: r.status},
		Status: http.StatusOK,
	}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) Types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) Last() domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func pending(n int) []reply {
	out := make([]reply, n)
	for i := range out {
		out[i] = reply{status: domain.PaymentPending}
	}
	return out
}

func newTestMonitor(f Fetcher, maxAttempts int) (*Monitor, *FakeClock, *eventLog) {
	clk := NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	events := &eventLog{}
	m := New(f, Config{Interval: time.Second, MaxAttempts: maxAttempts}, WithClock(clk), WithPublisher(events))
	return m, clk, events
}

func TestCompletesOnPaid(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{status: domain.PaymentPending}, {status: domain.PaymentPending}, {status: domain.PaymentPaid}}}
	m, clk, events := newTestMonitor(f, 3)

	require.True(t, m.Start(context.Background(), "acct"))
	clk.Advance(time.Minute)

	require.Equal(t, 3, f.Calls())
	st := m.Snapshot()
	require.Equal(t, PhaseCompleted, st.Phase)
	require.True(t, st.IsCompleted)
	require.False(t, st.IsTimedOut)
	require.False(t, st.IsMonitoring)
	require.Equal(t, 3, st.Attempts)
	require.Equal(t, domain.PaymentPaid, st.LastStatus.PaymentStatus)

	last := events.Last()
	require.Equal(t, domain.EventCompleted, last.Type)
	require.Equal(t, domain.PaymentPaid, last.Update.Status.PaymentStatus)
	require.Equal(t, "acct", last.Update.PaymentAccount)
	require.Equal(t, "order-acct", last.Update.OrderID)
	require.Equal(t, 0, clk.Pending())
}

func TestTimesOutAfterBudget(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: pending(1)}
	m, clk, events := newTestMonitor(f, 3)

	m.Start(context.Background(), "acct")
	clk.Advance(time.Minute)

	require.Equal(t, 3, f.Calls())
	st := m.Snapshot()
	require.True(t, st.IsTimedOut)
	require.False(t, st.IsCompleted)
	require.Equal(t, 3, st.Attempts)
	require.Equal(t, domain.EventTimedOut, events.Last().Type)
	require.Nil(t, events.Last().Err)
}

func TestTimeoutTickFollowsLastRequestByInterval(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: pending(1)}
	m, clk, _ := newTestMonitor(f, 2)

	m.Start(context.Background(), "acct")
	clk.Advance(0)
	require.Equal(t, 1, f.Calls())
	clk.Advance(time.Second)
	require.Equal(t, 2, f.Calls())
	require.True(t, m.Snapshot().IsMonitoring)

	clk.Advance(time.Second)
	require.Equal(t, 2, f.Calls())
	require.True(t, m.Snapshot().IsTimedOut)
}

func TestNeverExceedsAttemptBudget(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{1, 2, 5, 17} {
		f := &scriptedFetcher{script: pending(1)}
		m, clk, _ := newTestMonitor(f, limit)

		m.Start(context.Background(), "acct")
		clk.Advance(time.Hour)

		require.Equal(t, limit, f.Calls(), "max attempts %d", limit)
		require.True(t, m.Snapshot().IsTimedOut)
	}
}

func TestNoPollAfterTerminalStatus(t *testing.T) {
	t.Parallel()

	for k := 1; k < 6; k++ {
		script := append(pending(k-1), reply{status: domain.PaymentPaid})
		f := &scriptedFetcher{script: script}
		m, clk, _ := newTestMonitor(f, 6)

		m.Start(context.Background(), "acct")
		clk.Advance(time.Hour)

		require.Equal(t, k, f.Calls())
		require.True(t, m.Snapshot().IsCompleted)
	}
}

func TestDaemonTimedOutStatusEndsSession(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{status: domain.PaymentPending}, {status: domain.PaymentTimedOut}}}
	m, clk, events := newTestMonitor(f, 10)

	m.Start(context.Background(), "acct")
	clk.Advance(time.Minute)

	require.Equal(t, 2, f.Calls())
	st := m.Snapshot()
	require.True(t, st.IsTimedOut)
	require.False(t, st.IsCompleted)
	require.Equal(t, domain.EventCompleted, events.Last().Type)
	require.Equal(t, domain.PaymentTimedOut, events.Last().Update.Status.PaymentStatus)
}

func TestAbortsOnNotFound(t *testing.T) {
	t.Parallel()

	notFound := &kalatori.HTTPError{Status: http.StatusNotFound, StatusText: "Not Found"}
	f := &scriptedFetcher{script: []reply{{err: notFound}}}
	m, clk, events := newTestMonitor(f, 5)

	m.Start(context.Background(), "acct")
	clk.Advance(time.Minute)

	require.Equal(t, 1, f.Calls())
	st := m.Snapshot()
	require.Equal(t, PhaseAborted, st.Phase)
	require.True(t, st.IsAborted)
	require.False(t, st.IsCompleted)
	require.False(t, st.IsTimedOut)
	require.False(t, st.IsMonitoring)
	require.ErrorIs(t, st.LastError, notFound)
	require.True(t, NonRecoverable(st.LastError))

	require.Equal(t, []domain.EventType{domain.EventStarted, domain.EventError, domain.EventAborted}, events.Types())
}

func TestRetriesRecoverableErrors(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{
		{err: &kalatori.HTTPError{Status: http.StatusBadGateway}},
		{err: &kalatori.TransportError{Timeout: true, Err: context.DeadlineExceeded}},
		{err: &kalatori.HTTPError{Status: http.StatusConflict}},
		{status: domain.PaymentPaid},
	}}
	m, clk, events := newTestMonitor(f, 10)

	m.Start(context.Background(), "acct")

	clk.Advance(2 * time.Second)
	st := m.Snapshot()
	require.Equal(t, 3, st.Attempts)
	require.Error(t, st.LastError)
	require.True(t, st.IsMonitoring)

	clk.Advance(time.Minute)
	st = m.Snapshot()
	require.Equal(t, 4, f.Calls())
	require.True(t, st.IsCompleted)
	require.NoError(t, st.LastError)

	require.Equal(t, []domain.EventType{
		domain.EventStarted,
		domain.EventError, domain.EventError, domain.EventError,
		domain.EventUpdate, domain.EventCompleted,
	}, events.Types())
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: pending(1)}
	m, clk, _ := newTestMonitor(f, 10)

	require.True(t, m.Start(context.Background(), "first"))
	clk.Advance(0)

	require.False(t, m.Start(context.Background(), "second"))
	st := m.Snapshot()
	require.Equal(t, "first", st.Account)
	require.Equal(t, 1, st.Attempts)
	require.Equal(t, 1, clk.Pending())
}

func TestStartRejectsEmptyAccount(t *testing.T) {
	t.Parallel()

	m, _, events := newTestMonitor(&scriptedFetcher{script: pending(1)}, 3)
	require.False(t, m.Start(context.Background(), ""))
	require.Equal(t, PhaseIdle, m.Snapshot().Phase)
	require.Empty(t, events.Types())
}

func TestStopCancelsPendingPoll(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: pending(1)}
	m, clk, events := newTestMonitor(f, 10)

	m.Start(context.Background(), "acct")
	clk.Advance(0)
	require.True(t, m.Stop())
	require.False(t, m.Stop())

	clk.Advance(time.Minute)
	require.Equal(t, 1, f.Calls())
	require.Equal(t, PhaseStopped, m.Snapshot().Phase)
	require.Equal(t, 0, clk.Pending())
	require.Equal(t, domain.EventStopped, events.Last().Type)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	m, _, events := newTestMonitor(&scriptedFetcher{script: pending(1)}, 3)
	require.False(t, m.Stop())
	m.Reset()
	require.Empty(t, events.Types())
}

// blockingFetcher holds every call until released, signalling entry first.
type blockingFetcher struct {
	entered chan string
	release chan struct{}
	status  map[string]domain.PaymentStatus
}

func (f *blockingFetcher) GetPaymentStatus(_ context.Context, account string) (*kalatori.Response[domain.OrderStatus], error) {
	f.entered <- account
	<-f.release
	return &kalatori.Response[domain.OrderStatus]{
		Data: domain.OrderStatus{PaymentAccount: account, PaymentStatus: f.status[account]},
	}, nil
}

func TestStopDiscardsInFlightResponse(t *testing.T) {
	t.Parallel()

	f := &blockingFetcher{
		entered: make(chan string, 1),
		release: make(chan struct{}),
		status:  map[string]domain.PaymentStatus{"acct": domain.PaymentPaid},
	}
	m, clk, events := newTestMonitor(f, 10)

	m.Start(context.Background(), "acct")
	done := make(chan struct{})
	go func() {
		defer close(done)
		clk.Advance(0)
	}()

	require.Equal(t, "acct", <-f.entered)
	require.True(t, m.Stop())
	before := m.Snapshot()

	close(f.release)
	<-done

	after := m.Snapshot()
	require.Equal(t, before, after)
	require.Equal(t, PhaseStopped, after.Phase)
	require.Nil(t, after.LastStatus)
	require.Equal(t, 1, after.Attempts)
	require.NotContains(t, events.Types(), domain.EventUpdate)
	require.NotContains(t, events.Types(), domain.EventCompleted)
}

func TestStaleResponseDoesNotLeakIntoNextSession(t *testing.T) {
	t.Parallel()

	f := &blockingFetcher{
		entered: make(chan string, 2),
		release: make(chan struct{}),
		status: map[string]domain.PaymentStatus{
			"old": domain.PaymentPaid,
			"new": domain.PaymentPending,
		},
	}
	m, clk, _ := newTestMonitor(f, 10)

	m.Start(context.Background(), "old")
	done := make(chan struct{})
	go func() {
		defer close(done)
		clk.Advance(0)
	}()
	require.Equal(t, "old", <-f.entered)

	m.Stop()
	require.True(t, m.Start(context.Background(), "new"))
	close(f.release)
	<-done

	require.Equal(t, "new", <-f.entered)
	st := m.Snapshot()
	require.Equal(t, "new", st.Account)
	require.True(t, st.IsMonitoring)
	require.Equal(t, 1, st.Attempts)
	require.Equal(t, domain.PaymentPending, st.LastStatus.PaymentStatus)
}

func TestContextCancellationStopsSession(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: pending(1)}
	m, clk, events := newTestMonitor(f, 10)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, "acct")
	clk.Advance(0)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	st, err := m.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, PhaseStopped, st.Phase)

	clk.Advance(time.Minute)
	require.Equal(t, 1, f.Calls())
	require.Eventually(t, func() bool {
		return events.Last().Type == domain.EventStopped
	}, time.Second, 5*time.Millisecond)
}

func TestWaitReturnsFinalState(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{status: domain.PaymentPending}, {status: domain.PaymentPaid}}}
	m, clk, events := newTestMonitor(f, 5)

	st, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, st.Phase)

	m.Start(context.Background(), "acct")
	clk.Advance(time.Minute)

	st, err = m.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, st.IsCompleted)
	require.Equal(t, domain.EventCompleted, events.Last().Type)

	m2, _, _ := newTestMonitor(f, 5)
	m2.Start(context.Background(), "acct")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m2.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResetAndRestart(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{err: errors.New("boom")}, {status: domain.PaymentPaid}}}
	m, clk, _ := newTestMonitor(f, 5)

	m.Start(context.Background(), "acct")
	clk.Advance(0)
	require.Error(t, m.Snapshot().LastError)

	m.ClearError()
	require.NoError(t, m.Snapshot().LastError)

	m.Reset()
	st := m.Snapshot()
	require.Equal(t, PhaseIdle, st.Phase)
	require.Empty(t, st.Account)
	require.Zero(t, st.Attempts)

	require.True(t, m.Start(context.Background(), "acct"))
	clk.Advance(time.Minute)
	require.True(t, m.Snapshot().IsCompleted)
	require.Equal(t, 1, m.Snapshot().Attempts)
}

func TestRestartAfterCompletionResetsCounters(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{status: domain.PaymentPaid}}}
	m, clk, _ := newTestMonitor(f, 3)

	m.Start(context.Background(), "a")
	clk.Advance(time.Minute)
	require.True(t, m.Snapshot().IsCompleted)

	require.True(t, m.Start(context.Background(), "b"))
	st := m.Snapshot()
	require.True(t, st.IsMonitoring)
	require.False(t, st.IsCompleted)
	require.Zero(t, st.Attempts)
	require.Nil(t, st.LastStatus)
}

func TestEventBusDelivery(t *testing.T) {
	t.Parallel()

	bus := eventbus.NewInMemoryBus()
	clk := NewFakeClock(time.Unix(0, 0))
	f := &scriptedFetcher{script: []reply{{status: domain.PaymentPending}, {status: domain.PaymentPaid}}}
	m := New(f, Config{Interval: time.Second, MaxAttempts: 5}, WithClock(clk), WithPublisher(bus))

	var updates []domain.PaymentStatus
	bus.Subscribe(domain.EventUpdate, func(e domain.Event) error {
		updates = append(updates, e.Update.Status.PaymentStatus)
		// handlers may read the monitor while it delivers
		_ = m.Snapshot()
		return errors.New("handler failure is logged, not fatal")
	})

	m.Start(context.Background(), "acct")
	clk.Advance(time.Minute)

	require.Equal(t, []domain.PaymentStatus{domain.PaymentPending, domain.PaymentPaid}, updates)
	require.True(t, m.Snapshot().IsCompleted)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	m := New(&scriptedFetcher{script: pending(1)}, Config{})
	require.Equal(t, DefaultInterval, m.Config().Interval)
	require.Equal(t, DefaultMaxAttempts, m.Config().MaxAttempts)
}

func TestNonRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad_request", &kalatori.HTTPError{Status: http.StatusBadRequest}, true},
		{"not_found", &kalatori.HTTPError{Status: http.StatusNotFound}, true},
		{"conflict", &kalatori.HTTPError{Status: http.StatusConflict}, false},
		{"server_error", &kalatori.HTTPError{Status: http.StatusInternalServerError}, false},
		{"timeout", &kalatori.TransportError{Timeout: true}, false},
		{"decode", &kalatori.DecodeError{Status: http.StatusOK}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NonRecoverable(tt.err))
		})
	}
}

type logLines struct {
	mu     sync.Mutex
	errors []string
}

func (l *logLines) Info(string, map[string]any) {}

func (l *logLines) Error(msg string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestUnknownStatusKeepsPollingAndLogs(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []reply{{status: "refunded"}, {status: domain.PaymentPaid}}}
	logs := &logLines{}
	clk := NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(f, Config{Interval: time.Second, MaxAttempts: 5}, WithClock(clk), WithLogger(logs))

	m.Start(context.Background(), "acct")
	clk.Advance(0)

	st := m.Snapshot()
	require.True(t, st.IsMonitoring)
	require.Equal(t, domain.PaymentStatus("refunded"), st.LastStatus.PaymentStatus)
	require.Equal(t, []string{"unknown payment status, polling on"}, logs.errors)

	clk.Advance(time.Second)
	require.True(t, m.Snapshot().IsCompleted)
	require.Equal(t, 2, f.Calls())
}
