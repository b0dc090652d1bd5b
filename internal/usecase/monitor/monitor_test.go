package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techpulse/internal/observability/logging"
	"techpulse/internal/resilience/retry"
	"techpulse/internal/usecase/alert"
)

type sentAlert struct {
	alertType string
	payload   alert.Payload
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []sentAlert
}

func (f *fakeAlerter) Notify(_ context.Context, alertType string, p alert.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, sentAlert{alertType: alertType, payload: p})
	return true
}

func (f *fakeAlerter) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.alertType)
	}
	return out
}

type fakeDiagnoser struct {
	mu     sync.Mutex
	calls  int
	result string
	err    error
	block  chan struct{}
}

func (f *fakeDiagnoser) Diagnose(ctx context.Context, _ ErrorRecord) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeDiagnoser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	monitor *Monitor
	clock   *clock.Mock
	alerter *fakeAlerter
	journal *bytes.Buffer
}

func newFixture(t *testing.T, cfg Config, opts ...Option) fixture {
	t.Helper()
	f := fixture{clock: clock.NewMock(), alerter: &fakeAlerter{}, journal: &bytes.Buffer{}}
	f.clock.Add(time.Hour)
	opts = append([]Option{
		WithClock(f.clock),
		WithAlerter(f.alerter),
		WithJournal(logging.NewJournal(logging.JournalErrors, f.journal)),
	}, opts...)
	f.monitor = New(cfg, opts...)
	return f
}

func wait(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestLogError_ClassifiesAndRecords(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.monitor.LogError(context.Background(),
		errors.New("postgres: connection refused"),
		Context{Source: "database", Operation: "ping"})

	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, f.clock.Now(), rec.Timestamp)
	assert.Equal(t, "database", rec.Context.Source)

	stats := f.monitor.Stats()
	assert.Equal(t, 1, stats.TotalErrors)
	assert.Equal(t, map[Severity]int{SeverityCritical: 1, SeverityWarning: 0, SeverityInfo: 0}, stats.Counts)
	require.Len(t, stats.RecentErrors, 1)
	assert.Equal(t, rec.ID, stats.RecentErrors[0].ID)

	assert.Contains(t, f.journal.String(), `"severity":"critical"`)
	assert.Contains(t, f.journal.String(), rec.ID)
}

func TestLogError_SeverityOverride(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.monitor.LogError(context.Background(), errors.New("news update failed"),
		Context{Severity: SeverityCritical})

	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.Equal(t, []string{alert.TypeCriticalError}, f.alerter.types())
}

func TestLogError_RedactsSecrets(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.monitor.LogError(context.Background(),
		errors.New("openai: invalid key sk-abcdefghijklmnopqrstuvwx"), Context{})

	assert.NotContains(t, rec.Message, "abcdefghijklmnop")
	assert.NotContains(t, f.journal.String(), "abcdefghijklmnop")
}

func TestLogError_CriticalEscalatesImmediately(t *testing.T) {
	f := newFixture(t, Config{})

	f.monitor.LogError(context.Background(), errors.New("out of memory"), Context{Resource: "news"})

	require.Len(t, f.alerter.alerts, 1)
	a := f.alerter.alerts[0]
	assert.Equal(t, alert.TypeCriticalError, a.alertType)
	assert.Equal(t, "out of memory", a.payload.Message)
	assert.Equal(t, "news", a.payload.Details["resource"])
}

func TestLogError_InfoNeverEscalates(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 10; i++ {
		f.monitor.LogError(context.Background(), errors.New("bad json"), Context{})
	}
	assert.Empty(t, f.alerter.types())
}

func TestLogError_WarningEscalationThreshold(t *testing.T) {
	f := newFixture(t, Config{WarningEscalationThreshold: 3, WarningEscalationWindow: 15 * time.Minute})
	ctx := context.Background()
	timeout := errors.New("request timeout")

	f.monitor.LogError(ctx, timeout, Context{})
	f.clock.Add(5 * time.Minute)
	f.monitor.LogError(ctx, timeout, Context{})
	assert.Empty(t, f.alerter.types(), "isolated warnings never page")

	f.clock.Add(5 * time.Minute)
	f.monitor.LogError(ctx, timeout, Context{})
	assert.Equal(t, []string{alert.TypeWarning}, f.alerter.types())
	assert.Contains(t, f.alerter.alerts[0].payload.Message, "3 warnings")
}

func TestLogError_WarningsOutsideWindowDoNotEscalate(t *testing.T) {
	f := newFixture(t, Config{WarningEscalationThreshold: 3, WarningEscalationWindow: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.monitor.LogError(ctx, errors.New("upstream timed out"), Context{})
		f.clock.Add(10 * time.Minute)
	}
	assert.Empty(t, f.alerter.types())
}

func TestStats_RingBufferEvictsOldest(t *testing.T) {
	f := newFixture(t, Config{Capacity: 5, RecentLimit: 3})

	for i := 0; i < 8; i++ {
		f.monitor.LogError(context.Background(), fmt.Errorf("failure %d", i), Context{})
	}

	stats := f.monitor.Stats()
	assert.Equal(t, 8, stats.TotalErrors)
	assert.Equal(t, 8, stats.Counts[SeverityInfo])
	require.Len(t, stats.RecentErrors, 3)
	assert.Equal(t, "failure 7", stats.RecentErrors[0].Message)
	assert.Equal(t, "failure 5", stats.RecentErrors[2].Message)
	assert.Len(t, f.monitor.RecordsSince(time.Time{}), 5)
}

func TestRecordsSince(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.monitor.LogError(ctx, errors.New("old"), Context{})
	cut := f.clock.Now()
	f.clock.Add(time.Minute)
	f.monitor.LogError(ctx, errors.New("new"), Context{})

	recent := f.monitor.RecordsSince(cut)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Message)
}

func TestClear(t *testing.T) {
	f := newFixture(t, Config{})
	f.monitor.LogError(context.Background(), errors.New("timeout"), Context{})

	f.monitor.Clear(context.Background())

	stats := f.monitor.Stats()
	assert.Equal(t, 0, stats.TotalErrors)
	assert.Empty(t, stats.RecentErrors)
	assert.Equal(t, 0, stats.Counts[SeverityWarning])
	assert.Contains(t, f.journal.String(), "error stats cleared")
}

func TestRetryReporter_CapsAtWarningAndNeverEscalates(t *testing.T) {
	f := newFixture(t, Config{WarningEscalationThreshold: 2})
	reporter := f.monitor.RetryReporter()
	ctx := context.Background()

	dbErr := errors.New("postgres: connection refused")
	for i := 1; i <= 3; i++ {
		reporter.ReportRetry(ctx, retry.Report{Operation: "fetch-devto", Kind: retry.KindAttemptFailed, Attempt: i, MaxAttempts: 3, Err: dbErr})
	}
	reporter.ReportRetry(ctx, retry.Report{Operation: "fetch-devto", Kind: retry.KindExhausted, Attempt: 3, MaxAttempts: 3, Err: dbErr})

	stats := f.monitor.Stats()
	assert.Equal(t, 4, stats.Counts[SeverityWarning])
	assert.Equal(t, 0, stats.Counts[SeverityCritical])
	assert.Empty(t, f.alerter.types())
	assert.Equal(t, retry.KindExhausted, stats.RecentErrors[0].Context.Source)
	assert.Equal(t, "3", stats.RecentErrors[0].Context.Attributes["attempt"])
}

func TestGuard_RecoversPanic(t *testing.T) {
	f := newFixture(t, Config{})

	assert.NotPanics(t, func() {
		f.monitor.Guard("refresh-loop", func() { panic("nil pointer") })
	})

	stats := f.monitor.Stats()
	require.Len(t, stats.RecentErrors, 1)
	rec := stats.RecentErrors[0]
	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.Equal(t, "uncaught-panic", rec.Context.Source)
	assert.Equal(t, "refresh-loop", rec.Context.Operation)
	assert.Contains(t, rec.Message, "nil pointer")
}

func TestSupervise_RestartsLoopAfterPanic(t *testing.T) {
	f := newFixture(t, Config{RestartDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	f.monitor.Supervise(ctx, "health-aggregator", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			panic("nil snapshot")
		}
		<-ctx.Done()
	})

	f.clock.Wait(clock.Calls{Timer: 1})
	assert.Equal(t, int32(1), runs.Load(), "no restart before the delay")
	f.clock.Add(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	wait(t, f.monitor)
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, 1, f.monitor.Stats().Counts[SeverityCritical])
}

func TestSupervise_StopsDuringRestartDelay(t *testing.T) {
	f := newFixture(t, Config{RestartDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	f.monitor.Supervise(ctx, "refresh-scheduler", func(ctx context.Context) {
		runs.Add(1)
		panic("boom")
	})

	f.clock.Wait(clock.Calls{Timer: 1})
	cancel()
	wait(t, f.monitor)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSupervise_NormalReturnIsNotRestarted(t *testing.T) {
	f := newFixture(t, Config{RestartDelay: time.Minute})
	var runs atomic.Int32

	f.monitor.Supervise(context.Background(), "database-watcher", func(ctx context.Context) {
		runs.Add(1)
	})
	wait(t, f.monitor)

	assert.Equal(t, int32(1), runs.Load())
	assert.Empty(t, f.monitor.Stats().RecentErrors)
}

func TestDiagnostics_AppendedToJournal(t *testing.T) {
	d := &fakeDiagnoser{result: "The database container is down; restart it."}
	f := newFixture(t, Config{}, WithDiagnoser(d))

	f.monitor.LogError(context.Background(), errors.New("request timeout"), Context{})
	f.monitor.LogError(context.Background(), errors.New("bad json"), Context{})
	wait(t, f.monitor)

	assert.Equal(t, 1, d.callCount(), "info records are not diagnosed")
	assert.Contains(t, f.journal.String(), "diagnostic analysis")
	assert.Contains(t, f.journal.String(), "restart it")
}

func TestDiagnostics_FailureIsSwallowed(t *testing.T) {
	d := &fakeDiagnoser{err: errors.New("429 rate limited")}
	f := newFixture(t, Config{}, WithDiagnoser(d))

	rec := f.monitor.LogError(context.Background(), errors.New("out of memory"), Context{})
	wait(t, f.monitor)

	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.Equal(t, 1, d.callCount())
	assert.NotContains(t, f.journal.String(), "diagnostic analysis")
}

func TestDiagnostics_BoundedConcurrency(t *testing.T) {
	d := &fakeDiagnoser{result: "ok", block: make(chan struct{})}
	f := newFixture(t, Config{DiagnosticsConcurrency: 1}, WithDiagnoser(d))

	for i := 0; i < 5; i++ {
		f.monitor.LogError(context.Background(), errors.New("request timeout"), Context{})
	}
	close(d.block)
	wait(t, f.monitor)

	assert.Equal(t, 1, d.callCount())
}

func TestClose_CancelsInFlightDiagnostics(t *testing.T) {
	d := &fakeDiagnoser{result: "ok", block: make(chan struct{})}
	f := newFixture(t, Config{}, WithDiagnoser(d))

	f.monitor.LogError(context.Background(), errors.New("out of memory"), Context{})
	require.Eventually(t, func() bool { return d.callCount() == 1 }, time.Second, 5*time.Millisecond)

	f.monitor.Close()
	wait(t, f.monitor)
	assert.NotContains(t, f.journal.String(), "diagnostic analysis")
}

type fakeCompleter struct {
	prompt string
}

func (c *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompt = prompt
	return "  likely transient  \n", nil
}

func TestNewDiagnoser_BuildsPrompt(t *testing.T) {
	c := &fakeCompleter{}
	d := NewDiagnoser(c)

	out, err := d.Diagnose(context.Background(), ErrorRecord{
		ID:       "e1",
		Severity: SeverityWarning,
		Message:  "Get https://unstop.com: timeout",
		Context:  Context{Source: "refresh", Resource: "hackathons", Attributes: map[string]string{"attempt": "2"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "likely transient", out)
	assert.Contains(t, c.prompt, "Severity: warning")
	assert.Contains(t, c.prompt, "Resource: hackathons")
	assert.Contains(t, c.prompt, "attempt: 2")
	assert.True(t, strings.HasSuffix(c.prompt, "Error: Get https://unstop.com: timeout\n"))
}
