package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"techpulse/internal/infra/notifier"
	"techpulse/internal/observability/logging"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/observability/tracing"
	"techpulse/internal/usecase/alert"
)

// Alerter receives the system-unhealthy notification.
type Alerter interface {
	Notify(ctx context.Context, alertType string, p alert.Payload) bool
}

// Config tunes the check schedule and per-probe timeouts.
type Config struct {
	Interval        time.Duration
	DatabaseTimeout time.Duration
	APITimeout      time.Duration
	MemoryTimeout   time.Duration
	UpstreamTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Minute,
		DatabaseTimeout: 5 * time.Second,
		APITimeout:      10 * time.Second,
		MemoryTimeout:   time.Second,
		UpstreamTimeout: 10 * time.Second,
	}
}

// Probes groups the four component probes. A nil probe reports healthy with
// "not monitored".
type Probes struct {
	Database        Probe
	APISurface      Probe
	Memory          Probe
	UpstreamSources Probe
}

// Aggregator runs the probes and retains the latest snapshot.
type Aggregator struct {
	cfg     Config
	probes  Probes
	clock   clock.Clock
	journal *logging.Journal
	logger  *slog.Logger
	alerter Alerter

	mu     sync.RWMutex
	latest *Snapshot
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock that drives the check ticker and timestamps.
func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithJournal sets the health journal.
func WithJournal(j *logging.Journal) Option {
	return func(a *Aggregator) { a.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithAlerter sets the target for system-unhealthy notifications.
func WithAlerter(al Alerter) Option {
	return func(a *Aggregator) { a.alerter = al }
}

// New creates an Aggregator. Zero config fields take their defaults.
func New(cfg Config, probes Probes, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DatabaseTimeout <= 0 {
		cfg.DatabaseTimeout = def.DatabaseTimeout
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = def.APITimeout
	}
	if cfg.MemoryTimeout <= 0 {
		cfg.MemoryTimeout = def.MemoryTimeout
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = def.UpstreamTimeout
	}

	a := &Aggregator{
		cfg:    cfg,
		probes: probes,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PerformCheck runs every probe concurrently, each under its own timeout,
// and stores the resulting snapshot. A check whose ctx ends before the
// probes finish is returned but neither retained nor alerted on.
func (a *Aggregator) PerformCheck(ctx context.Context) Snapshot {
	ctx, span := tracing.StartSpan(ctx, "health.check")
	start := a.clock.Now()

	var c Components
	var g errgroup.Group
	for _, job := range []struct {
		name    string
		probe   Probe
		timeout time.Duration
		dst     *ComponentResult
	}{
		{"database", a.probes.Database, a.cfg.DatabaseTimeout, &c.Database},
		{"api_surface", a.probes.APISurface, a.cfg.APITimeout, &c.APISurface},
		{"memory", a.probes.Memory, a.cfg.MemoryTimeout, &c.Memory},
		{"upstream_sources", a.probes.UpstreamSources, a.cfg.UpstreamTimeout, &c.UpstreamSources},
	} {
		g.Go(func() error {
			*job.dst = a.runProbe(ctx, job.name, job.probe, job.timeout)
			return nil
		})
	}
	_ = g.Wait()

	snap := Snapshot{
		Timestamp:  start,
		Components: c,
		Overall: Worst(c.Database.Status, c.APISurface.Status,
			c.Memory.Status, c.UpstreamSources.Status),
		Duration: a.clock.Now().Sub(start),
	}

	if ctx.Err() != nil {
		// checks ran against an expired context; the result says nothing about the system
		a.logger.Debug("health check cancelled", slog.Duration("duration", snap.Duration))
		tracing.EndSpan(span, ctx.Err())
		return snap
	}

	a.mu.Lock()
	a.latest = &snap
	a.mu.Unlock()

	a.publish(ctx, snap)

	span.SetAttributes(attribute.String("health.overall", string(snap.Overall)))
	var spanErr error
	if snap.Overall == StatusUnhealthy {
		spanErr = errors.New("system unhealthy")
	}
	tracing.EndSpan(span, spanErr)
	return snap
}

func (a *Aggregator) runProbe(ctx context.Context, name string, p Probe, timeout time.Duration) (res ComponentResult) {
	if p == nil {
		return ComponentResult{Status: StatusHealthy, Message: "not monitored"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("health probe panicked",
				slog.String("component", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			res = ComponentResult{Status: StatusUnhealthy, Message: fmt.Sprintf("probe panicked: %v", rec)}
		}
	}()

	res = p.Check(ctx)
	if res.Status == "" {
		res.Status = StatusUnhealthy
	}
	return res
}

func (a *Aggregator) publish(ctx context.Context, snap Snapshot) {
	attrs := []slog.Attr{
		slog.String("overall", string(snap.Overall)),
		slog.Duration("duration", snap.Duration),
	}
	for _, n := range snap.Components.named() {
		metrics.UpdateHealthComponent(n.name, string(n.result.Status))
		attrs = append(attrs, slog.Group(n.name,
			slog.String("status", string(n.result.Status)),
			slog.String("message", n.result.Message)))
	}
	metrics.UpdateHealthComponent("overall", string(snap.Overall))
	metrics.RecordHealthCheck(snap.Duration)
	a.journal.Append(ctx, "health check", attrs...)

	if snap.Overall != StatusUnhealthy {
		a.logger.Debug("health check completed", slog.String("overall", string(snap.Overall)))
		return
	}

	a.logger.Warn("system unhealthy", slog.String("components", unhealthyList(snap)))
	if a.alerter == nil {
		return
	}
	details := make(map[string]string, 4)
	for _, n := range snap.Components.named() {
		details[n.name] = string(n.result.Status)
	}
	a.alerter.Notify(ctx, alert.TypeSystemUnhealthy, alert.Payload{
		Subject:  "System health check failed",
		Message:  strings.Join(snap.Lines(), "\n"),
		Severity: notifier.SeverityCritical,
		Details:  details,
	})
}

func unhealthyList(snap Snapshot) string {
	var names []string
	for _, n := range snap.Components.named() {
		if n.result.Status == StatusUnhealthy {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// Latest returns the most recent snapshot, if any check has run.
func (a *Aggregator) Latest() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return Snapshot{}, false
	}
	return *a.latest, true
}

// Run checks once immediately and then on every tick until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := a.clock.Ticker(a.cfg.Interval)
	defer ticker.Stop()

	a.PerformCheck(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.PerformCheck(ctx)
		}
	}
}
