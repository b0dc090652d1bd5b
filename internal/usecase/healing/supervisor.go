// Package healing restores a lost database connection and relieves memory
// pressure without operator intervention. Only exhausted reconnection and
// critical memory pressure reach the error monitor as critical records.
package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"techpulse/internal/infra/db"
	"techpulse/internal/infra/memstat"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/pkg/redact"
	"techpulse/internal/resilience/retry"
	"techpulse/internal/usecase/monitor"
)

// State is the supervisor's view of the database connection.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var allStates = []string{
	string(StateConnected),
	string(StateDisconnected),
	string(StateReconnecting),
	string(StateFailed),
}

// Reconnector re-establishes the database connection.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Recorder receives failures worth recording.
type Recorder interface {
	LogError(ctx context.Context, err error, c monitor.Context) monitor.ErrorRecord
}

// Config tunes reconnection and the memory monitor.
type Config struct {
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration

	MemoryInterval        time.Duration
	MemoryWarningPercent  float64
	MemoryCriticalPercent float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts:     5,
		ReconnectBaseDelay:    5 * time.Second,
		MemoryInterval:        time.Minute,
		MemoryWarningPercent:  80,
		MemoryCriticalPercent: 90,
	}
}

// Status is a snapshot of the supervisor.
type Status struct {
	State          State           `json:"state"`
	Attempts       int             `json:"attempts"`
	LastTransition time.Time       `json:"last_transition"`
	LastError      string          `json:"last_error,omitempty"`
	Memory         *memstat.Sample `json:"memory,omitempty"`
}

// Supervisor consumes database lifecycle events and runs the memory monitor.
type Supervisor struct {
	cfg      Config
	db       Reconnector
	recorder Recorder
	clock    clock.Clock
	logger   *slog.Logger
	readMem  memstat.Reader
	release  func()
	retryOps []retry.Option

	mu             sync.Mutex
	state          State
	attempts       int
	lastTransition time.Time
	lastErr        string
	lastMem        *memstat.Sample

	wg sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock for the memory ticker and reconnect backoff.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMemoryReader replaces the heap sampler.
func WithMemoryReader(r memstat.Reader, release func()) Option {
	return func(s *Supervisor) {
		s.readMem = r
		if release != nil {
			s.release = release
		}
	}
}

// WithRetryOptions passes extra options to the reconnect executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Supervisor) { s.retryOps = append(s.retryOps, opts...) }
}

// New creates a Supervisor. The initial state is connected.
func New(cfg Config, reconnector Reconnector, recorder Recorder, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.MemoryInterval <= 0 {
		cfg.MemoryInterval = def.MemoryInterval
	}
	if cfg.MemoryWarningPercent <= 0 {
		cfg.MemoryWarningPercent = def.MemoryWarningPercent
	}
	if cfg.MemoryCriticalPercent <= 0 {
		cfg.MemoryCriticalPercent = def.MemoryCriticalPercent
	}

	s := &Supervisor{
		cfg:      cfg,
		db:       reconnector,
		recorder: recorder,
		clock:    clock.New(),
		logger:   slog.Default(),
		readMem:  memstat.Read,
		release:  memstat.Release,
		state:    StateConnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastTransition = s.clock.Now()
	metrics.SetSupervisorState(string(s.state), allStates)
	return s
}

// Run consumes events and runs the memory monitor until ctx is done. A nil
// events channel runs the memory monitor only.
func (s *Supervisor) Run(ctx context.Context, events <-chan db.Event) {
	ticker := s.clock.Ticker(s.cfg.MemoryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.HandleEvent(ctx, ev)
		case <-ticker.C:
			s.CheckMemory(ctx)
		}
	}
}

// HandleEvent applies one lifecycle event. Reconnection runs in the
// background; Wait blocks until it finishes.
func (s *Supervisor) HandleEvent(ctx context.Context, ev db.Event) {
	switch ev.Type {
	case db.EventConnected, db.EventReconnected:
		s.mu.Lock()
		if s.state == StateReconnecting && ev.Type == db.EventConnected {
			s.mu.Unlock()
			return
		}
		s.attempts = 0
		s.transitionLocked(StateConnected)
		s.mu.Unlock()
		s.logger.Info("database connection restored", slog.String("event", string(ev.Type)))

	case db.EventError:
		s.record(ctx, ev.Err, "database-error", monitor.SeverityWarning)

	case db.EventDisconnected:
		s.mu.Lock()
		if s.state == StateReconnecting {
			s.mu.Unlock()
			s.logger.Debug("disconnect ignored: reconnection already running")
			return
		}
		s.transitionLocked(StateDisconnected)
		s.lastErr = redact.Error(ev.Err)
		s.mu.Unlock()

		s.record(ctx, disconnectErr(ev.Err), "database-disconnect", monitor.SeverityWarning)

		s.mu.Lock()
		s.attempts = 0
		s.transitionLocked(StateReconnecting)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconnect(ctx)
		}()
	}
}

func disconnectErr(err error) error {
	if err == nil {
		return errors.New("database disconnected")
	}
	return fmt.Errorf("database disconnected: %w", err)
}

func (s *Supervisor) reconnect(ctx context.Context) {
	policy := retry.ReconnectPolicy(s.cfg.ReconnectAttempts, s.cfg.ReconnectBaseDelay)
	opts := append([]retry.Option{
		retry.WithClock(s.clock),
		retry.WithLogger(s.logger),
		retry.WithReporter(retry.ReporterFunc(s.onReconnectReport)),
	}, s.retryOps...)
	executor := retry.New("database-reconnect", policy, opts...)

	res := executor.Do(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		metrics.ReconnectAttemptsTotal.Inc()
		return s.db.Reconnect(ctx)
	})

	if res.Success {
		s.mu.Lock()
		s.attempts = 0
		s.lastErr = ""
		s.transitionLocked(StateConnected)
		s.mu.Unlock()
		s.logger.Info("database reconnected", slog.Int("attempts", res.Attempts))
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	// A reconnected event may have arrived while the executor was still waiting.
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.lastErr = redact.Error(res.Err)
	s.transitionLocked(StateFailed)
	s.mu.Unlock()

	s.record(ctx, fmt.Errorf("database reconnection failed after %d attempts: %w", res.Attempts, res.Err),
		"reconnect", monitor.SeverityCritical)
}

func (s *Supervisor) onReconnectReport(_ context.Context, r retry.Report) {
	if r.Kind != retry.KindAttemptFailed {
		return
	}
	s.logger.Warn("database reconnect attempt failed",
		slog.Int("attempt", r.Attempt),
		slog.Int("max_attempts", r.MaxAttempts),
		slog.Duration("next_delay", retry.Delay(retry.Exponential, s.cfg.ReconnectBaseDelay, r.Attempt)),
		slog.String("error", redact.Error(r.Err)))
}

// record logs a database failure. Disconnects and server errors are capped at
// warning so that only exhausted self-healing pages the operator.
func (s *Supervisor) record(ctx context.Context, err error, operation string, severity monitor.Severity) {
	if s.recorder == nil {
		return
	}
	s.recorder.LogError(ctx, err, monitor.Context{
		Source:    "database",
		Operation: operation,
		Severity:  severity,
	})
}

// transitionLocked must be called with s.mu held.
func (s *Supervisor) transitionLocked(to State) {
	if s.state == to {
		return
	}
	s.logger.Info("supervisor state transition",
		slog.String("from", string(s.state)),
		slog.String("to", string(to)))
	s.state = to
	s.lastTransition = s.clock.Now()
	metrics.SetSupervisorState(string(to), allStates)
}

// CheckMemory samples the heap once. Above the critical threshold it runs a
// collection and records a critical error; above the warning threshold it
// only logs.
func (s *Supervisor) CheckMemory(ctx context.Context) memstat.Sample {
	sample := s.readMem()
	metrics.MemoryUsagePercent.Set(sample.Percent)

	s.mu.Lock()
	s.lastMem = &sample
	s.mu.Unlock()

	switch {
	case sample.Percent > s.cfg.MemoryCriticalPercent:
		s.release()
		if s.recorder != nil {
			s.recorder.LogError(ctx,
				fmt.Errorf("critical memory pressure: heap %.1f%% (%d of %d bytes)",
					sample.Percent, sample.HeapAlloc, heapTotal(sample)),
				monitor.Context{
					Source:    "memory",
					Operation: "memory-check",
					Severity:  monitor.SeverityCritical,
					Attributes: map[string]string{
						"heap_alloc_bytes": strconv.FormatUint(sample.HeapAlloc, 10),
						"heap_sys_bytes":   strconv.FormatUint(sample.HeapSys, 10),
						"percent":          strconv.FormatFloat(sample.Percent, 'f', 1, 64),
					},
				})
		}
	case sample.Percent > s.cfg.MemoryWarningPercent:
		s.logger.Warn("high memory usage",
			slog.Float64("percent", sample.Percent),
			slog.Uint64("heap_alloc_bytes", sample.HeapAlloc))
	}
	return sample
}

func heapTotal(s memstat.Sample) uint64 {
	if s.Limit > 0 {
		return s.Limit
	}
	return s.HeapSys
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:          s.state,
		Attempts:       s.attempts,
		LastTransition: s.lastTransition,
		LastError:      s.lastErr,
	}
	if s.lastMem != nil {
		m := *s.lastMem
		st.Memory = &m
	}
	return st
}

// Wait blocks until a running reconnection finishes.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
