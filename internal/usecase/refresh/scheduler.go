// Package refresh keeps the cached resource sets current. Each resource is
// refreshed on its own ticker from its configured sources; a failed cycle
// keeps serving the previous set and a cold start with no data serves the
// static fallback set.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"techpulse/internal/domain/entity"
	"techpulse/internal/observability/logging"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/observability/tracing"
	"techpulse/internal/pkg/redact"
	"techpulse/internal/resilience/retry"
	"techpulse/internal/usecase/alert"
	"techpulse/internal/usecase/monitor"
)

// Source fetches normalized records from one upstream.
type Source interface {
	Spec() entity.SourceSpec
	Fetch(ctx context.Context) ([]entity.NormalizedRecord, error)
}

// Enricher fills in thin summaries. It must not fail the cycle.
type Enricher interface {
	Enrich(ctx context.Context, records []entity.NormalizedRecord) []entity.NormalizedRecord
}

// ErrorLogger records failures.
type ErrorLogger interface {
	LogError(ctx context.Context, err error, c monitor.Context) monitor.ErrorRecord
	RetryReporter() retry.Reporter
}

// Alerter receives update-failed notifications.
type Alerter interface {
	Notify(ctx context.Context, alertType string, p alert.Payload) bool
}

// ResourceConfig tunes one resource.
type ResourceConfig struct {
	Interval       time.Duration
	MaxRecords     int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	// OpenFirst orders records with status "Open" ahead of the rest
	OpenFirst bool
}

// Config maps every served resource to its settings.
type Config struct {
	Resources map[entity.ResourceType]ResourceConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Resources: map[entity.ResourceType]ResourceConfig{
			entity.ResourceNews: {
				Interval:       3 * time.Hour,
				MaxRecords:     12,
				RetryAttempts:  3,
				RetryBaseDelay: 2 * time.Second,
			},
			entity.ResourceHackathons: {
				Interval:       6 * time.Hour,
				MaxRecords:     15,
				RetryAttempts:  3,
				RetryBaseDelay: 3 * time.Second,
				OpenFirst:      true,
			},
		},
	}
}

// Outcome is the result of a Refresh call. Set is always the set served after
// the call. Err explains why no new set was published and is nil on success.
type Outcome struct {
	Set       entity.CachedResourceSet `json:"set"`
	Refreshed bool                     `json:"refreshed"`
	Reason    string                   `json:"reason,omitempty"`
	Err       error                    `json:"-"`
}

// Status describes the refresh state of one resource.
type Status struct {
	Resource        entity.ResourceType `json:"resource"`
	LastRefreshedAt time.Time           `json:"lastRefreshedAt"`
	InFlight        bool                `json:"inFlight"`
	RecordCount     int                 `json:"recordCount"`
	Fallback        bool                `json:"fallback"`
	LastAttemptAt   time.Time           `json:"lastAttemptAt"`
	LastError       string              `json:"lastError,omitempty"`
	LastDuration    time.Duration       `json:"lastDuration"`
}

type resourceState struct {
	cfg      ResourceConfig
	sources  []Source
	inFlight atomic.Bool

	mu            sync.Mutex
	lastAttemptAt time.Time
	lastError     string
	lastDuration  time.Duration
}

// Scheduler runs refresh cycles. One cycle per resource may be in flight.
type Scheduler struct {
	store     *Store
	resources map[entity.ResourceType]*resourceState
	clock     clock.Clock
	journal   *logging.Journal
	logger    *slog.Logger
	errLog    ErrorLogger
	alerter   Alerter
	enricher  Enricher
	retryOps  []retry.Option
	ready     atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock that drives tickers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithJournal sets the refresh journal.
func WithJournal(j *logging.Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithErrorLogger sets where failures are recorded.
func WithErrorLogger(e ErrorLogger) Option {
	return func(s *Scheduler) { s.errLog = e }
}

// WithAlerter sets the update-failed alert target.
func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) { s.alerter = a }
}

// WithEnricher enables summary enrichment.
func WithEnricher(e Enricher) Option {
	return func(s *Scheduler) { s.enricher = e }
}

// WithRetryOptions passes options to every source retry executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Scheduler) { s.retryOps = append(s.retryOps, opts...) }
}

// New creates a Scheduler for every resource in cfg. Sources are fetched in
// slice order; that order decides which duplicate survives a merge.
func New(cfg Config, sources map[entity.ResourceType][]Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		resources: make(map[entity.ResourceType]*resourceState, len(cfg.Resources)),
		clock:     clock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var served []entity.ResourceType
	for _, r := range entity.AllResources() {
		if _, ok := cfg.Resources[r]; ok {
			served = append(served, r)
		}
	}
	for r := range cfg.Resources {
		if !containsResource(served, r) {
			served = append(served, r)
		}
	}
	for _, r := range served {
		s.resources[r] = &resourceState{cfg: cfg.Resources[r], sources: sources[r]}
	}
	s.store = NewStore(served...)
	return s
}

func containsResource(list []entity.ResourceType, r entity.ResourceType) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

// Resources lists the served resources.
func (s *Scheduler) Resources() []entity.ResourceType {
	return s.store.Resources()
}

// Ready reports whether the initial refresh of every resource has finished.
func (s *Scheduler) Ready() bool {
	return s.ready.Load()
}

// Get returns a copy of the served set. Before the first cycle finishes the
// set is empty.
func (s *Scheduler) Get(r entity.ResourceType) (entity.CachedResourceSet, error) {
	set, err := s.store.Get(r)
	if err != nil {
		return entity.CachedResourceSet{}, err
	}
	if set == nil {
		return entity.CachedResourceSet{Resource: r, Records: []entity.NormalizedRecord{}}, nil
	}
	return set.Clone(), nil
}

// Refresh runs a cycle for r unless one is already running or, without
// force, the cache is still fresh. Source failures never surface as an
// error; they are reported in the Outcome and in Status.
func (s *Scheduler) Refresh(ctx context.Context, r entity.ResourceType, force bool) (Outcome, error) {
	st, ok := s.resources[r]
	if !ok {
		return Outcome{}, entity.ErrUnknownResource
	}
	prev, _ := s.store.Get(r)

	if !force && prev != nil && !prev.Fallback && prev.Age(s.clock.Now()) < st.cfg.Interval {
		return s.skipped(r, prev, ErrCacheFresh), nil
	}

	if !st.inFlight.CompareAndSwap(false, true) {
		s.journal.Append(ctx, "refresh skipped",
			slog.String("resource", string(r)),
			slog.String("reason", ErrRefreshInProgress.Error()))
		return s.skipped(r, prev, ErrRefreshInProgress), nil
	}
	defer st.inFlight.Store(false)

	return s.cycle(ctx, r, st, prev), nil
}

func (s *Scheduler) skipped(r entity.ResourceType, set *entity.CachedResourceSet, reason error) Outcome {
	out := Outcome{Reason: reason.Error(), Err: reason}
	if set != nil {
		out.Set = set.Clone()
	} else {
		out.Set = entity.CachedResourceSet{Resource: r, Records: []entity.NormalizedRecord{}}
	}
	return out
}

func (s *Scheduler) cycle(ctx context.Context, r entity.ResourceType, st *resourceState, prev *entity.CachedResourceSet) Outcome {
	start := s.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "refresh.cycle",
		attribute.String("resource", string(r)),
		attribute.Int("sources", len(st.sources)))

	s.journal.Append(ctx, "refresh started",
		slog.String("resource", string(r)),
		slog.Int("sources", len(st.sources)))

	results := make([][]entity.NormalizedRecord, len(st.sources))
	failures := make([]error, len(st.sources))

	// all-settled join: goroutines never return an error
	var g errgroup.Group
	for i, src := range st.sources {
		g.Go(func() error {
			results[i], failures[i] = s.fetchSource(ctx, r, st.cfg, src)
			return nil
		})
	}
	_ = g.Wait()

	merged := Merge(results, st.cfg.MaxRecords, st.cfg.OpenFirst)
	if len(merged) > 0 && s.enricher != nil {
		merged = s.enricher.Enrich(ctx, merged)
	}

	now := s.clock.Now()
	duration := now.Sub(start)
	out := Outcome{}

	switch {
	case len(merged) > 0:
		set := &entity.CachedResourceSet{Resource: r, Records: merged, LastRefreshedAt: now}
		_ = s.store.Put(set)
		out.Set = set.Clone()
		out.Refreshed = true

		metrics.RecordRefresh(string(r), "success", duration)
		metrics.UpdateCache(string(r), len(merged), now)
		s.journal.Append(ctx, "refresh succeeded",
			slog.String("resource", string(r)),
			slog.Int("records", len(merged)),
			slog.Int("failed_sources", countErrors(failures)),
			slog.Duration("duration", duration))
		s.logger.Info("resource refreshed",
			slog.String("resource", string(r)),
			slog.Int("records", len(merged)),
			slog.Duration("duration", duration))

	case ctx.Err() != nil:
		// shutdown or caller cancellation, not an upstream failure
		out = s.skipped(r, prev, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)))
		out.Reason = ErrCancelled.Error()
		metrics.RecordRefresh(string(r), "cancelled", duration)
		s.journal.Append(ctx, "refresh cancelled",
			slog.String("resource", string(r)),
			slog.Duration("duration", duration))

	case prev != nil:
		out.Err = failureError(failures)
		out.Reason = "kept previous set"
		out.Set = prev.Clone()
		metrics.RecordRefresh(string(r), "failure", duration)
		s.reportFailure(ctx, r, out.Err, duration, prev.Len())

	default:
		set := &entity.CachedResourceSet{
			Resource:        r,
			Records:         FallbackRecords(r, now),
			LastRefreshedAt: now,
			Fallback:        true,
		}
		_ = s.store.Put(set)
		out.Err = failureError(failures)
		out.Reason = "serving fallback set"
		out.Set = set.Clone()
		metrics.RecordRefresh(string(r), "fallback", duration)
		metrics.UpdateCache(string(r), set.Len(), time.Time{})
		s.reportFailure(ctx, r, out.Err, duration, set.Len())
	}

	st.mu.Lock()
	st.lastAttemptAt = now
	st.lastDuration = duration
	st.lastError = ""
	if out.Err != nil {
		st.lastError = redact.Error(out.Err)
	}
	st.mu.Unlock()

	tracing.EndSpan(span, out.Err)
	return out
}

// fetchSource runs one source through a retry executor. The breaker is
// applied by the source itself.
func (s *Scheduler) fetchSource(ctx context.Context, r entity.ResourceType, cfg ResourceConfig, src Source) ([]entity.NormalizedRecord, error) {
	name := src.Spec().Name
	ctx, span := tracing.StartSpan(ctx, "refresh.source",
		attribute.String("resource", string(r)),
		attribute.String("source", name))

	policy := retry.SourceFetchPolicy(cfg.RetryBaseDelay)
	if cfg.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.RetryAttempts
	}
	opts := []retry.Option{retry.WithClock(s.clock), retry.WithLogger(s.logger)}
	if s.errLog != nil {
		opts = append(opts, retry.WithReporter(s.errLog.RetryReporter()))
	}
	opts = append(opts, s.retryOps...)
	executor := retry.New("fetch-"+name, policy, opts...)

	start := s.clock.Now()
	res := retry.Execute(ctx, executor, src.Fetch)
	metrics.RecordSourceFetch(name, res.Success, s.clock.Now().Sub(start))

	if !res.Success {
		s.logger.Warn("source fetch failed",
			slog.String("resource", string(r)),
			slog.String("source", name),
			slog.Int("attempts", res.Attempts),
			slog.String("error", redact.Error(res.Err)))
		tracing.EndSpan(span, res.Err)
		return nil, fmt.Errorf("%s: %w", name, res.Err)
	}

	span.SetAttributes(attribute.Int("records", len(res.Value)))
	tracing.EndSpan(span, nil)
	return res.Value, nil
}

func (s *Scheduler) reportFailure(ctx context.Context, r entity.ResourceType, err error, duration time.Duration, serving int) {
	s.journal.Append(ctx, "refresh failed",
		slog.String("resource", string(r)),
		slog.String("error", redact.Error(err)),
		slog.Int("serving", serving),
		slog.Duration("duration", duration))

	if s.errLog != nil {
		s.errLog.LogError(ctx, err, monitor.Context{
			Source:    "refresh",
			Operation: string(r) + " update failed",
			Resource:  string(r),
			Severity:  monitor.SeverityWarning,
		})
	}
	if s.alerter != nil {
		s.alerter.Notify(ctx, alert.UpdateFailedType(string(r)), alert.Payload{
			Subject:  titleCase(string(r)) + " update failed",
			Message:  redact.Error(err),
			Severity: string(monitor.SeverityWarning),
			Details: map[string]string{
				"resource": string(r),
				"serving":  fmt.Sprintf("%d records", serving),
				"duration": duration.Round(time.Millisecond).String(),
			},
		})
	}
}

// failureError summarizes a cycle that produced no records.
func failureError(failures []error) error {
	var errs []error
	for _, err := range failures {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return entity.ErrNoRecords
	}
	return fmt.Errorf("%w: %w", entity.ErrNoRecords, errors.Join(errs...))
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Status returns the refresh state of r.
func (s *Scheduler) Status(r entity.ResourceType) (Status, error) {
	st, ok := s.resources[r]
	if !ok {
		return Status{}, entity.ErrUnknownResource
	}
	set, _ := s.store.Get(r)

	out := Status{Resource: r, InFlight: st.inFlight.Load()}
	if set != nil {
		out.RecordCount = set.Len()
		out.Fallback = set.Fallback
		if !set.Fallback {
			out.LastRefreshedAt = set.LastRefreshedAt
		}
	}

	st.mu.Lock()
	out.LastAttemptAt = st.lastAttemptAt
	out.LastError = st.lastError
	out.LastDuration = st.lastDuration
	st.mu.Unlock()
	return out, nil
}

// StatusAll returns the status of every served resource.
func (s *Scheduler) StatusAll() []Status {
	var out []Status
	for _, r := range s.store.Resources() {
		st, _ := s.Status(r)
		out = append(out, st)
	}
	return out
}

// RefreshAll refreshes every resource concurrently and waits for all of them.
func (s *Scheduler) RefreshAll(ctx context.Context, force bool) map[entity.ResourceType]Outcome {
	resources := s.store.Resources()
	outcomes := make([]Outcome, len(resources))

	var g errgroup.Group
	for i, r := range resources {
		g.Go(func() error {
			outcomes[i], _ = s.Refresh(ctx, r, force)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[entity.ResourceType]Outcome, len(resources))
	for i, r := range resources {
		out[r] = outcomes[i]
	}
	return out
}

// Run refreshes every resource once, marks the scheduler ready, then
// refreshes each resource on its own ticker until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("refresh scheduler starting", slog.Int("resources", len(s.resources)))
	for _, r := range s.store.Resources() {
		s.logger.Info("refresh schedule",
			slog.String("resource", string(r)),
			slog.Duration("interval", s.resources[r].cfg.Interval))
	}

	s.RefreshAll(ctx, true)
	s.ready.Store(true)

	var wg sync.WaitGroup
	for _, r := range s.store.Resources() {
		st := s.resources[r]
		if st.cfg.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, r, st.cfg.Interval)
		}()
	}
	wg.Wait()
	s.logger.Info("refresh scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, r entity.ResourceType, interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, r)
		}
	}
}

// tick runs one scheduled refresh. A panic is recorded as critical and the
// next tick runs as usual.
func (s *Scheduler) tick(ctx context.Context, r entity.ResourceType) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("scheduled refresh panicked",
				slog.String("resource", string(r)),
				slog.Any("panic", v))
			if s.errLog != nil {
				s.errLog.LogError(ctx, &retry.PanicError{Value: v, Stack: debug.Stack()}, monitor.Context{
					Source:    "uncaught-panic",
					Operation: string(r) + " scheduled refresh",
					Resource:  string(r),
					Severity:  monitor.SeverityCritical,
				})
			}
		}
	}()

	if _, err := s.Refresh(ctx, r, true); err != nil {
		s.logger.Error("scheduled refresh failed",
			slog.String("resource", string(r)),
			slog.Any("error", err))
	}
}
