// Package monitor records classified failures, keeps recent history in
// memory, journals every record, escalates critical and repeated warning
// failures to the alert dispatcher, and requests best-effort diagnostics.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"techpulse/internal/infra/notifier"
	"techpulse/internal/observability/logging"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/pkg/redact"
	"techpulse/internal/resilience/retry"
	"techpulse/internal/usecase/alert"
)

// Context describes where a failure happened.
type Context struct {
	Source     string            `json:"source,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Resource   string            `json:"resource,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// Severity overrides classification when set.
	Severity Severity `json:"-"`
}

// ErrorRecord is one recorded failure. Records are never mutated.
type ErrorRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Context   Context   `json:"context"`
}

// Stats is a read-only summary of recorded failures.
type Stats struct {
	Counts       map[Severity]int `json:"counts"`
	RecentErrors []ErrorRecord    `json:"recent_errors"`
	TotalErrors  int              `json:"total_errors"`
}

// Alerter receives escalations.
type Alerter interface {
	Notify(ctx context.Context, alertType string, p alert.Payload) bool
}

// Config tunes the monitor.
type Config struct {
	// Capacity of the in-memory ring buffer
	Capacity int

	// RecentLimit caps Stats.RecentErrors
	RecentLimit int

	// WarningEscalationThreshold warnings within WarningEscalationWindow page the operator
	WarningEscalationThreshold int
	WarningEscalationWindow    time.Duration

	// DiagnosticsConcurrency bounds in-flight diagnostic requests; extra requests are skipped
	DiagnosticsConcurrency int64
	DiagnosticsTimeout     time.Duration

	// RestartDelay spaces restarts of a supervised loop after a panic
	RestartDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:                   50,
		RecentLimit:                10,
		WarningEscalationThreshold: 3,
		WarningEscalationWindow:    15 * time.Minute,
		DiagnosticsConcurrency:     2,
		DiagnosticsTimeout:         60 * time.Second,
		RestartDelay:               5 * time.Second,
	}
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg       Config
	clock     clock.Clock
	journal   *logging.Journal
	logger    *slog.Logger
	alerter   Alerter
	diagnoser Diagnoser

	mu       sync.Mutex
	records  *ring[ErrorRecord]
	counts   map[Severity]int
	total    int
	warnings []time.Time

	diagSem    *semaphore.Weighted
	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for timestamps and the escalation window.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithJournal sets the errors journal.
func WithJournal(j *logging.Journal) Option {
	return func(m *Monitor) { m.journal = j }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithAlerter sets the escalation target.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// WithDiagnoser enables diagnostics for critical and warning records.
func WithDiagnoser(d Diagnoser) Option {
	return func(m *Monitor) { m.diagnoser = d }
}

// New creates a Monitor. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.WarningEscalationThreshold <= 0 {
		cfg.WarningEscalationThreshold = def.WarningEscalationThreshold
	}
	if cfg.WarningEscalationWindow <= 0 {
		cfg.WarningEscalationWindow = def.WarningEscalationWindow
	}
	if cfg.DiagnosticsConcurrency <= 0 {
		cfg.DiagnosticsConcurrency = def.DiagnosticsConcurrency
	}
	if cfg.DiagnosticsTimeout <= 0 {
		cfg.DiagnosticsTimeout = def.DiagnosticsTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:        cfg,
		clock:      clock.New(),
		logger:     slog.Default(),
		records:    newRing[ErrorRecord](cfg.Capacity),
		counts:     make(map[Severity]int, len(Severities)),
		diagSem:    semaphore.NewWeighted(cfg.DiagnosticsConcurrency),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type logOptions struct {
	escalate bool
	diagnose bool
}

// LogError classifies and records err. Critical records page the operator
// immediately; warnings page only when they repeat within the escalation
// window.
func (m *Monitor) LogError(ctx context.Context, err error, c Context) ErrorRecord {
	return m.record(ctx, err, c, logOptions{escalate: true, diagnose: true})
}

func (m *Monitor) record(ctx context.Context, err error, c Context, opts logOptions) ErrorRecord {
	severity := c.Severity
	if !severity.Valid() {
		severity = Classify(err)
	}
	c.Severity = ""

	message := redact.Error(err)
	if message == "" {
		message = "unknown error"
	}

	now := m.clock.Now()
	rec := ErrorRecord{
		ID:        uuid.New().String(),
		Timestamp: now,
		Severity:  severity,
		Message:   message,
		Context:   c,
	}

	var warningBurst int
	m.mu.Lock()
	m.records.push(rec)
	m.counts[severity]++
	m.total++
	if severity == SeverityWarning && opts.escalate {
		warningBurst = m.trackWarningLocked(now)
	}
	m.mu.Unlock()

	metrics.RecordError(string(severity))
	m.journal.Append(ctx, "error recorded", recordAttrs(rec)...)
	m.logAtSeverity(rec)

	if opts.escalate {
		switch {
		case severity == SeverityCritical:
			m.notify(ctx, alert.TypeCriticalError, alert.Payload{
				Subject:  "Critical error detected",
				Message:  rec.Message,
				Severity: notifier.SeverityCritical,
				Details:  detailsFor(rec),
			})
		case warningBurst > 0:
			m.notify(ctx, alert.TypeWarning, alert.Payload{
				Subject: "Repeated warnings",
				Message: fmt.Sprintf("%d warnings within %s; latest: %s",
					warningBurst, m.cfg.WarningEscalationWindow, rec.Message),
				Severity: notifier.SeverityWarning,
				Details:  detailsFor(rec),
			})
		}
	}

	if opts.diagnose && (severity == SeverityCritical || severity == SeverityWarning) {
		m.diagnose(rec)
	}
	return rec
}

// trackWarningLocked records a warning and returns the burst size when the
// escalation threshold is reached, zero otherwise. The window restarts after
// each escalation.
func (m *Monitor) trackWarningLocked(now time.Time) int {
	cutoff := now.Add(-m.cfg.WarningEscalationWindow)
	kept := m.warnings[:0]
	for _, t := range m.warnings {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.warnings = append(kept, now)

	if len(m.warnings) >= m.cfg.WarningEscalationThreshold {
		n := len(m.warnings)
		m.warnings = nil
		return n
	}
	return 0
}

func (m *Monitor) notify(ctx context.Context, alertType string, p alert.Payload) {
	if m.alerter == nil {
		return
	}
	m.alerter.Notify(ctx, alertType, p)
}

func (m *Monitor) logAtSeverity(rec ErrorRecord) {
	attrs := []any{
		slog.String("error_id", rec.ID),
		slog.String("source", rec.Context.Source),
		slog.String("operation", rec.Context.Operation),
		slog.String("error", rec.Message),
	}
	switch rec.Severity {
	case SeverityCritical:
		m.logger.Error("critical error recorded", attrs...)
	case SeverityWarning:
		m.logger.Warn("warning recorded", attrs...)
	default:
		m.logger.Info("error recorded", attrs...)
	}
}

func recordAttrs(rec ErrorRecord) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error_id", rec.ID),
		slog.String("severity", string(rec.Severity)),
		slog.String("message", rec.Message),
	}
	if rec.Context.Source != "" {
		attrs = append(attrs, slog.String("source", rec.Context.Source))
	}
	if rec.Context.Operation != "" {
		attrs = append(attrs, slog.String("operation", rec.Context.Operation))
	}
	if rec.Context.Resource != "" {
		attrs = append(attrs, slog.String("resource", rec.Context.Resource))
	}
	if len(rec.Context.Attributes) > 0 {
		attrs = append(attrs, slog.Any("attributes", rec.Context.Attributes))
	}
	return attrs
}

func detailsFor(rec ErrorRecord) map[string]string {
	d := map[string]string{"error_id": rec.ID}
	if rec.Context.Source != "" {
		d["source"] = rec.Context.Source
	}
	if rec.Context.Operation != "" {
		d["operation"] = rec.Context.Operation
	}
	if rec.Context.Resource != "" {
		d["resource"] = rec.Context.Resource
	}
	return d
}

// Stats returns counts for every severity and the newest records.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[Severity]int, len(Severities))
	for _, s := range Severities {
		counts[s] = m.counts[s]
	}
	return Stats{
		Counts:       counts,
		RecentErrors: m.records.newest(m.cfg.RecentLimit),
		TotalErrors:  m.total,
	}
}

// RecordsSince returns buffered records newer than since, newest first.
func (m *Monitor) RecordsSince(since time.Time) []ErrorRecord {
	m.mu.Lock()
	all := m.records.newest(0)
	m.mu.Unlock()

	out := make([]ErrorRecord, 0, len(all))
	for _, r := range all {
		if r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	return out
}

// Clear resets counters, history and the escalation window.
func (m *Monitor) Clear(ctx context.Context) {
	m.mu.Lock()
	cleared := m.total
	m.records.reset()
	m.counts = make(map[Severity]int, len(Severities))
	m.total = 0
	m.warnings = nil
	m.mu.Unlock()

	m.journal.Append(ctx, "error stats cleared", slog.Int("cleared", cleared))
	m.logger.Info("error stats cleared", slog.Int("cleared", cleared))
}

// RetryReporter adapts the monitor to retry.Reporter. Reports are capped at
// warning and never escalate on their own; the caller that owns the retried
// operation decides whether exhaustion is worth a page.
func (m *Monitor) RetryReporter() retry.Reporter {
	return retry.ReporterFunc(func(ctx context.Context, r retry.Report) {
		metrics.RecordRetryFailure(r.Operation, r.Kind)
		m.record(ctx, r.Err, Context{
			Source:    r.Kind,
			Operation: r.Operation,
			Severity:  Classify(r.Err).AtMost(SeverityWarning),
			Attributes: map[string]string{
				"attempt":      strconv.Itoa(r.Attempt),
				"max_attempts": strconv.Itoa(r.MaxAttempts),
			},
		}, logOptions{diagnose: r.Kind == retry.KindExhausted})
	})
}

// Guard runs fn and turns a panic into a critical record.
func (m *Monitor) Guard(name string, fn func()) {
	m.guard(name, fn)
}

func (m *Monitor) guard(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err := &retry.PanicError{Value: r, Stack: debug.Stack()}
			m.LogError(context.Background(), err, Context{
				Source:    "uncaught-panic",
				Operation: name,
				Severity:  SeverityCritical,
			})
		}
	}()
	fn()
	return false
}

// Supervise runs loop in a goroutine tracked by Wait. A panic is recorded
// like Guard does and the loop is started again after RestartDelay, until
// ctx is done. A loop that returns normally is not restarted.
func (m *Monitor) Supervise(ctx context.Context, name string, loop func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			if !m.guard(name, func() { loop(ctx) }) || ctx.Err() != nil {
				return
			}
			m.logger.Warn("restarting background task after panic",
				slog.String("task", name),
				slog.Duration("delay", m.cfg.RestartDelay))
			metrics.RecordTaskRestart(name)

			timer := m.clock.Timer(m.cfg.RestartDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Wait blocks until guarded goroutines and diagnostics finish or ctx is done.
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels in-flight diagnostics.
func (m *Monitor) Close() {
	m.baseCancel()
}

// diagnose requests an analysis without blocking the caller. When the
// concurrency bound is reached the request is skipped.
func (m *Monitor) diagnose(rec ErrorRecord) {
	if m.diagnoser == nil {
		return
	}
	if !m.diagSem.TryAcquire(1) {
		metrics.RecordDiagnostic("skipped")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.diagSem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordDiagnostic("failed")
				m.logger.Error("diagnostic request panicked",
					slog.String("error_id", rec.ID), slog.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.DiagnosticsTimeout)
		defer cancel()

		analysis, err := m.diagnoser.Diagnose(ctx, rec)
		if err == nil && analysis == "" {
			err = errors.New("empty analysis")
		}
		if err != nil {
			metrics.RecordDiagnostic("failed")
			m.logger.Debug("diagnostic request failed",
				slog.String("error_id", rec.ID), slog.String("error", redact.Error(err)))
			return
		}

		metrics.RecordDiagnostic("success")
		m.journal.Append(ctx, "diagnostic analysis",
			slog.String("error_id", rec.ID),
			slog.String("severity", string(rec.Severity)),
			slog.String("analysis", redact.String(analysis)))
	}()
}
