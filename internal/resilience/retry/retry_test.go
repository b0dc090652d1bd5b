package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper captures requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recordingReporter) ReportRetry(_ context.Context, rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recordingReporter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reports))
	for _, rep := range r.reports {
		out = append(out, rep.Kind)
	}
	return out
}

func newTestExecutor(p Policy) (*Executor, *recordingSleeper, *recordingReporter) {
	s := &recordingSleeper{}
	r := &recordingReporter{}
	return New("test-op", p, WithSleeper(s.sleep), WithReporter(r)), s, r
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	e, sleeper, reporter := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Second})

	res := Execute(context.Background(), e, func(context.Context) (string, error) {
		return "ok", nil
	})

	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Empty(t, sleeper.delays)
	assert.Empty(t, reporter.reports)
}

func TestExecute_FailsTwiceThenSucceeds(t *testing.T) {
	e, sleeper, reporter := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Strategy: Linear})

	calls := 0
	res := Execute(context.Background(), e, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("upstream timeout")
		}
		return 42, nil
	})

	assert.True(t, res.Success)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Equal(t, []string{KindAttemptFailed, KindAttemptFailed}, reporter.kinds())
}

func TestExecute_AlwaysFailing(t *testing.T) {
	e, _, reporter := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	calls := 0
	testErr := errors.New("boom")
	res := Execute(context.Background(), e, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, testErr
	})

	assert.False(t, res.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, testErr)
	assert.Equal(t,
		[]string{KindAttemptFailed, KindAttemptFailed, KindAttemptFailed, KindExhausted},
		reporter.kinds())

	last := reporter.reports[len(reporter.reports)-1]
	assert.Equal(t, "test-op", last.Operation)
	assert.Equal(t, 3, last.Attempt)
}

func TestExecute_ExponentialDelays(t *testing.T) {
	e, sleeper, _ := newTestExecutor(Policy{MaxAttempts: 5, BaseDelay: 5 * time.Second, Strategy: Exponential})

	res := e.Do(context.Background(), func(context.Context) error {
		return errors.New("connection refused")
	})

	assert.False(t, res.Success)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
	}, sleeper.delays)
}

func TestExecute_MaxDelayCaps(t *testing.T) {
	e, sleeper, _ := newTestExecutor(Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Strategy:    Exponential,
	})

	e.Do(context.Background(), func(context.Context) error { return errors.New("x") })

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, sleeper.delays)
}

func TestExecute_NonRetryableStopsEarly(t *testing.T) {
	e, _, reporter := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, RetryIf: IsRetryable})

	calls := 0
	res := e.Do(context.Background(), func(context.Context) error {
		calls++
		return &HTTPError{StatusCode: 400, Message: "Bad Request"}
	})

	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{KindAttemptFailed, KindExhausted}, reporter.kinds())
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	e, _, _ := newTestExecutor(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	res := e.Do(context.Background(), func(context.Context) error {
		panic("nil map write")
	})

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	var panicErr *PanicError
	require.ErrorAs(t, res.Err, &panicErr)
	assert.Equal(t, "nil map write", panicErr.Value)
}

func TestExecute_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New("cancelled", Policy{MaxAttempts: 3, BaseDelay: time.Hour})
	calls := 0
	res := e.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("fail")
	})

	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestExecute_WaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	e := New("clocked", Policy{MaxAttempts: 2, BaseDelay: time.Minute}, WithClock(mock))

	calls := 0
	done := make(chan Result[struct{}], 1)
	go func() {
		done <- e.Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("first fails")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		select {
		case res := <-done:
			assert.True(t, res.Success)
			assert.Equal(t, 2, res.Attempts)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestExecute_CancelledContextIsNotReported(t *testing.T) {
	e, _, reporter := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	res := e.Do(ctx, func(context.Context) error {
		cancel()
		return context.Canceled
	})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, reporter.kinds())
}

func TestClockSleeper_CancelledWaitReleasesTimer(t *testing.T) {
	mock := clock.NewMock()
	sleep := clockSleeper(mock)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- sleep(ctx, time.Minute) }()
	mock.Wait(clock.Calls{Timer: 1})
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	advanced := make(chan struct{})
	go func() {
		mock.Add(time.Hour)
		close(advanced)
	}()
	select {
	case <-advanced:
	case <-time.After(time.Second):
		t.Fatal("clock blocked by an abandoned timer")
	}
}

func TestExecute_ReporterPanicIsContained(t *testing.T) {
	e := New("reporting", Policy{MaxAttempts: 1},
		WithReporter(ReporterFunc(func(context.Context, Report) { panic("reporter") })))

	assert.NotPanics(t, func() {
		res := e.Do(context.Background(), func(context.Context) error { return errors.New("x") })
		assert.False(t, res.Success)
	})
}

func TestDelay(t *testing.T) {
	tests := []struct {
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{Linear, 1, 2 * time.Second},
		{Linear, 2, 4 * time.Second},
		{Linear, 3, 6 * time.Second},
		{Exponential, 1, 2 * time.Second},
		{Exponential, 2, 4 * time.Second},
		{Exponential, 3, 8 * time.Second},
		{Exponential, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s-%d", tt.strategy, tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.strategy, 2*time.Second, tt.attempt))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"refused", syscall.ECONNREFUSED, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"408", &HTTPError{StatusCode: 408}, true},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"plain", errors.New("bad json"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 503, Message: "Service Unavailable"}
	assert.Equal(t, "HTTP 503: Service Unavailable", err.Error())
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, addJitter(base, 0))
	for i := 0; i < 50; i++ {
		got := addJitter(base, 0.5)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/2)
	}
}
