// Package retry provides bounded retry with linear or exponential backoff.
// Executions never fail with a bare error: the outcome is always a Result
// envelope, and every failed attempt plus the final exhaustion is reported
// to an optional Reporter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Linear waits BaseDelay × n before attempt n+1.
	Linear Strategy = iota
	// Exponential waits BaseDelay × 2^(n-1) before attempt n+1.
	Exponential
)

func (s Strategy) String() string {
	if s == Exponential {
		return "exponential"
	}
	return "linear"
}

// Report kinds emitted to the Reporter.
const (
	KindAttemptFailed = "retry-attempt-failed"
	KindExhausted     = "retry-exhausted"
)

// Policy holds the configuration for retry logic.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int

	// BaseDelay is the unit the backoff strategy multiplies
	BaseDelay time.Duration

	// MaxDelay caps a single delay; zero means no cap
	MaxDelay time.Duration

	// Strategy is the backoff curve
	Strategy Strategy

	// JitterFraction is the fraction of delay to add as random jitter (0.0 to 1.0)
	JitterFraction float64

	// RetryIf decides whether a failure is worth another attempt.
	// Nil retries every failure except context cancellation.
	RetryIf func(error) bool
}

// SourceFetchPolicy returns the policy used for upstream source fetches.
func SourceFetchPolicy(base time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   base,
		Strategy:    Linear,
	}
}

// ReconnectPolicy returns the policy used to restore a lost database connection.
func ReconnectPolicy(maxAttempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		Strategy:    Exponential,
	}
}

// LLMPolicy returns configuration for text generation calls.
// Moderate retry due to cost considerations, only on transient failures.
func LLMPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Second,
		Strategy:       Exponential,
		JitterFraction: 0.1,
		RetryIf:        IsRetryable,
	}
}

// Delay returns the wait before attempt+1 after attempt failed (attempt is 1-based).
func Delay(strategy Strategy, base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	if strategy == Exponential {
		factor := math.Pow(2, float64(attempt-1))
		if factor > float64(math.MaxInt64)/float64(max(base, 1)) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(float64(base) * factor)
	}
	return base * time.Duration(attempt)
}

// Result is the envelope every execution ends in.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
}

// Report describes one failed attempt or the final exhaustion.
type Report struct {
	Operation   string
	Kind        string
	Attempt     int
	MaxAttempts int
	Err         error
	NextDelay   time.Duration
}

// Reporter receives failure reports. Implementations must not block for long.
type Reporter interface {
	ReportRetry(ctx context.Context, r Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, r Report)

// ReportRetry calls f.
func (f ReporterFunc) ReportRetry(ctx context.Context, r Report) { f(ctx, r) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs operations under one Policy.
type Executor struct {
	name     string
	policy   Policy
	reporter Reporter
	sleep    Sleeper
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithReporter sets the failure reporter.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithClock makes the executor wait on the given clock.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.sleep = clockSleeper(c) }
}

// WithSleeper replaces the wait function.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithLogger sets the logger used for attempt logs.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for the named operation.
func New(name string, policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		name:   name,
		policy: policy,
		sleep:  clockSleeper(clock.New()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the operation name.
func (e *Executor) Name() string { return e.name }

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Do runs an operation that produces no value.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) Result[struct{}] {
	return Execute(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
}

// Execute runs op until it succeeds, the policy is exhausted, the failure is
// not retryable, or ctx is done.
func Execute[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) Result[T] {
	var res Result[T]
	p := e.policy

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res.Attempts = attempt

		value, err := safeCall(ctx, op)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					slog.String("operation", e.name),
					slog.Int("attempt", attempt))
			}
			res.Success = true
			res.Value = value
			res.Err = nil
			return res
		}
		res.Err = err

		last := attempt == p.MaxAttempts || !e.shouldRetry(err)
		var delay time.Duration
		if !last {
			delay = e.delayAfter(attempt)
		}

		e.report(ctx, Report{
			Operation:   e.name,
			Kind:        KindAttemptFailed,
			Attempt:     attempt,
			MaxAttempts: p.MaxAttempts,
			Err:         err,
			NextDelay:   delay,
		})

		if last {
			break
		}

		e.logger.Warn("operation failed, retrying",
			slog.String("operation", e.name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if err := e.sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("retry aborted: %w", err)
			break
		}
	}

	e.report(ctx, Report{
		Operation:   e.name,
		Kind:        KindExhausted,
		Attempt:     res.Attempts,
		MaxAttempts: p.MaxAttempts,
		Err:         res.Err,
	})
	return res
}

func (e *Executor) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if e.policy.RetryIf != nil {
		return e.policy.RetryIf(err)
	}
	return true
}

func (e *Executor) delayAfter(attempt int) time.Duration {
	d := Delay(e.policy.Strategy, e.policy.BaseDelay, attempt)
	if e.policy.MaxDelay > 0 && d > e.policy.MaxDelay {
		d = e.policy.MaxDelay
	}
	return addJitter(d, e.policy.JitterFraction)
}

// report forwards r to the reporter. Failures after ctx is done come from
// the caller giving up and are not reported.
func (e *Executor) report(ctx context.Context, r Report) {
	if e.reporter == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("retry reporter panicked",
				slog.String("operation", e.name),
				slog.Any("panic", rec))
		}
	}()
	e.reporter.ReportRetry(ctx, r)
}

// safeCall turns a panic inside op into an ordinary failed attempt.
func safeCall[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return op(ctx)
}

func clockSleeper(c clock.Clock) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		timer := c.Timer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PanicError wraps a recovered panic from an attempted operation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// IsRetryable reports whether an error looks transient: network timeouts,
// refused or reset connections, and 5xx, 408 or 429 responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}

	return false
}

// HTTPError represents a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// addJitter adds random jitter to a duration to prevent thundering herd.
func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}
	if jitterFraction > 1.0 {
		jitterFraction = 1.0
	}
	// #nosec G404 -- math/rand is fine for backoff jitter.
	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	return duration + jitter
}
