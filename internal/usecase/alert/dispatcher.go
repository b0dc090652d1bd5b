package alert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"techpulse/internal/handler/http/requestid"
	"techpulse/internal/infra/notifier"
	"techpulse/internal/observability/logging"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/pkg/redact"
)

// Alert types raised by the core.
const (
	TypeCriticalError   = "critical-error"
	TypeWarning         = "warning"
	TypeSystemUnhealthy = "system-unhealthy"
	TypeDigest          = "digest"
)

// UpdateFailedType returns the alert type for a failed refresh of resource.
func UpdateFailedType(resource string) string {
	return resource + "-update-failed"
}

// Channel circuit breaker and pool constants
const (
	breakerThreshold  = 5                // consecutive failures before a channel is paused
	breakerTimeout    = 5 * time.Minute  // how long a paused channel stays paused
	workerPoolTimeout = 5 * time.Second  // wait for a free worker slot
	deliveryTimeout   = 30 * time.Second // per-channel send timeout
)

// Payload is the content of one alert.
type Payload struct {
	Subject  string
	Message  string
	Severity string
	Details  map[string]string
}

// Config controls throttling and the digest schedule.
type Config struct {
	Enabled bool

	// Cooldown is the minimum gap between two alerts of the same type
	Cooldown time.Duration

	// DigestSchedule is a 5-field cron expression; empty disables the digest
	DigestSchedule string

	// Timezone is the IANA zone the digest schedule runs in
	Timezone string

	// MaxConcurrent bounds in-flight channel deliveries
	MaxConcurrent int
}

// DefaultConfig returns an enabled dispatcher with a one hour cooldown and a
// 09:00 daily digest.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Cooldown:       time.Hour,
		DigestSchedule: "0 9 * * *",
		Timezone:       "UTC",
		MaxConcurrent:  10,
	}
}

// ThrottleEntry records when an alert type was last delivered.
type ThrottleEntry struct {
	AlertType  string    `json:"alert_type"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// ChannelHealthStatus represents the health status of a notification channel.
type ChannelHealthStatus struct {
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	CircuitBreakerOpen bool       `json:"circuit_breaker_open"`
	DisabledUntil      *time.Time `json:"disabled_until,omitempty"`
}

// channelHealth tracks circuit breaker state for a channel
type channelHealth struct {
	consecutiveFailures int
	disabledUntil       time.Time
	mu                  sync.Mutex
}

// Dispatcher sends throttled alerts to every enabled channel.
type Dispatcher struct {
	cfg      Config
	channels []Channel
	clock    clock.Clock
	journal  *logging.Journal
	logger   *slog.Logger
	digest   DigestSource

	mu         sync.Mutex
	lastSent   map[string]time.Time
	lastDigest time.Time

	workerPool     chan struct{}
	channelHealth  map[string]*channelHealth
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used for cooldowns and channel breakers.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithJournal sets the alerts journal.
func WithJournal(j *logging.Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDigestSource sets what the digest summarizes.
func WithDigestSource(s DigestSource) Option {
	return func(d *Dispatcher) { d.digest = s }
}

// New creates a Dispatcher over channels.
func New(cfg Config, channels []Channel, opts ...Option) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		cfg:            cfg,
		channels:       channels,
		clock:          clock.New(),
		logger:         slog.Default(),
		lastSent:       make(map[string]time.Time),
		workerPool:     make(chan struct{}, cfg.MaxConcurrent),
		channelHealth:  make(map[string]*channelHealth, len(channels)),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	enabled := 0
	for _, ch := range channels {
		d.channelHealth[ch.Name()] = &channelHealth{}
		if ch.IsEnabled() {
			enabled++
		}
	}
	channelsEnabled.Set(float64(enabled))

	return d
}

// Enabled reports whether the dispatcher delivers anything at all.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.Enabled
}

// Notify delivers an alert unless the dispatcher is disabled or the same
// alert type was delivered within the cooldown. It returns true when the
// alert was accepted for delivery. Channel failures never surface here.
func (d *Dispatcher) Notify(ctx context.Context, alertType string, p Payload) bool {
	if !d.cfg.Enabled {
		metrics.RecordAlert(alertType, "disabled")
		return false
	}

	now := d.clock.Now()
	d.mu.Lock()
	if last, ok := d.lastSent[alertType]; ok && now.Sub(last) < d.cfg.Cooldown {
		d.mu.Unlock()
		metrics.RecordAlert(alertType, "suppressed")
		d.logger.Debug("alert suppressed by cooldown",
			slog.String("alert_type", alertType),
			slog.Time("last_sent_at", last),
			slog.Duration("cooldown", d.cfg.Cooldown))
		return false
	}
	d.lastSent[alertType] = now
	d.mu.Unlock()

	msg := toMessage(alertType, p, now)
	requestID := requestIDFrom(ctx)
	dispatched := d.dispatch(requestID, msg, nil)

	d.journal.Append(ctx, "alert sent",
		slog.String("request_id", requestID),
		slog.String("alert_type", alertType),
		slog.String("severity", msg.Severity),
		slog.String("subject", msg.Subject),
		slog.String("message", msg.Body),
		slog.Int("channels", dispatched))
	metrics.RecordAlert(alertType, "sent")

	d.logger.Info("alert dispatched",
		slog.String("request_id", requestID),
		slog.String("alert_type", alertType),
		slog.Int("channels", dispatched))
	return true
}

func toMessage(alertType string, p Payload, now time.Time) notifier.Message {
	severity := p.Severity
	if severity == "" {
		severity = notifier.SeverityWarning
	}
	subject := p.Subject
	if subject == "" {
		subject = alertType
	}

	fields := make([]notifier.Field, 0, len(p.Details)+1)
	fields = append(fields, notifier.Field{Name: "Type", Value: alertType})
	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, notifier.Field{Name: k, Value: redact.String(p.Details[k])})
	}

	return notifier.Message{
		Subject:   redact.String(subject),
		Body:      redact.String(p.Message),
		Severity:  severity,
		Fields:    fields,
		Timestamp: now,
	}
}

func requestIDFrom(ctx context.Context) string {
	if id := requestid.FromContext(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}

// dispatch starts one delivery per enabled channel and returns how many were
// started. When results is non-nil, each delivery sends exactly one value.
func (d *Dispatcher) dispatch(requestID string, msg notifier.Message, results chan<- error) int {
	started := 0
	for _, ch := range d.channels {
		if !ch.IsEnabled() {
			continue
		}
		started++
		d.wg.Add(1)
		go d.deliver(requestID, ch, msg, results)
	}
	return started
}

// deliver sends msg to a single channel in a goroutine.
func (d *Dispatcher) deliver(requestID string, channel Channel, msg notifier.Message, results chan<- error) {
	var err error
	defer d.wg.Done()
	defer func() {
		if results != nil {
			results <- err
		}
	}()

	activeDeliveries.Inc()
	defer activeDeliveries.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", channel.Name(), r)
			d.logger.Error("Panic in alert channel",
				slog.String("request_id", requestID),
				slog.String("channel", channel.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if !d.acquireWorker() {
		d.logger.Warn("Alert dropped: worker pool full",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()))
		recordDropped(channel.Name(), "pool_full")
		err = ErrNotificationDropped
		return
	}
	defer func() { <-d.workerPool }()

	health := d.channelHealth[channel.Name()]
	health.mu.Lock()
	if d.clock.Now().Before(health.disabledUntil) {
		until := health.disabledUntil
		health.mu.Unlock()
		d.logger.Warn("Channel temporarily disabled due to circuit breaker",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()),
			slog.Time("disabled_until", until))
		recordDropped(channel.Name(), "circuit_open")
		err = ErrCircuitBreakerOpen
		return
	}
	health.mu.Unlock()

	ctx, cancel := context.WithTimeout(d.shutdownCtx, deliveryTimeout)
	defer cancel()
	ctx = requestid.WithRequestID(ctx, requestID)

	start := time.Now()
	recordDispatch(channel.Name())
	err = channel.Send(ctx, msg)
	duration := time.Since(start)

	health.mu.Lock()
	if err != nil {
		health.consecutiveFailures++
		if health.consecutiveFailures >= breakerThreshold {
			health.disabledUntil = d.clock.Now().Add(breakerTimeout)
			d.logger.Error("Circuit breaker opened for channel",
				slog.String("request_id", requestID),
				slog.String("channel", channel.Name()),
				slog.Int("consecutive_failures", health.consecutiveFailures))
			recordBreakerOpen(channel.Name())
		}
	} else {
		health.consecutiveFailures = 0
	}
	health.mu.Unlock()

	if err != nil {
		recordFailure(channel.Name(), duration)
		metrics.RecordAlertDeliveryError(channel.Name())
		d.logger.Warn("Alert delivery failed",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()),
			slog.String("subject", msg.Subject),
			slog.Duration("send_duration", duration),
			slog.Any("error", redact.Error(err)))
		return
	}
	recordSuccess(channel.Name(), duration)
	d.logger.Info("Alert delivered",
		slog.String("request_id", requestID),
		slog.String("channel", channel.Name()),
		slog.String("subject", msg.Subject),
		slog.Duration("send_duration", duration))
}

// Entries returns the throttle table sorted by alert type.
func (d *Dispatcher) Entries() []ThrottleEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ThrottleEntry, 0, len(d.lastSent))
	for t, at := range d.lastSent {
		out = append(out, ThrottleEntry{AlertType: t, LastSentAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlertType < out[j].AlertType })
	return out
}

// ChannelHealth returns the breaker state of every channel.
func (d *Dispatcher) ChannelHealth() []ChannelHealthStatus {
	now := d.clock.Now()
	statuses := make([]ChannelHealthStatus, 0, len(d.channels))
	for _, ch := range d.channels {
		health := d.channelHealth[ch.Name()]

		health.mu.Lock()
		var disabledUntil *time.Time
		open := now.Before(health.disabledUntil)
		if open {
			until := health.disabledUntil
			disabledUntil = &until
		}
		health.mu.Unlock()

		statuses = append(statuses, ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: open,
			DisabledUntil:      disabledUntil,
		})
	}
	return statuses
}

// Start schedules the digest. It is a no-op when the dispatcher is disabled
// or no schedule is configured.
func (d *Dispatcher) Start() error {
	if !d.cfg.Enabled || d.cfg.DigestSchedule == "" {
		return nil
	}

	loc := time.UTC
	if d.cfg.Timezone != "" {
		l, err := time.LoadLocation(d.cfg.Timezone)
		if err != nil {
			d.logger.Error("invalid timezone, using UTC",
				slog.String("timezone", d.cfg.Timezone), slog.Any("error", err))
		} else {
			loc = l
		}
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(d.cfg.DigestSchedule, d.runDigest); err != nil {
		return fmt.Errorf("schedule digest %q: %w", d.cfg.DigestSchedule, err)
	}
	c.Start()

	d.cronMu.Lock()
	d.cron = c
	d.cronMu.Unlock()

	d.logger.Info("digest scheduled",
		slog.String("schedule", d.cfg.DigestSchedule),
		slog.String("timezone", loc.String()))
	return nil
}

func (d *Dispatcher) runDigest() {
	ctx, cancel := context.WithTimeout(d.shutdownCtx, 2*deliveryTimeout)
	defer cancel()
	if err := d.SendDigest(ctx); err != nil {
		d.logger.Warn("digest delivery failed", slog.Any("error", redact.Error(err)))
	}
}

// Flush waits for in-flight deliveries without stopping the dispatcher.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the digest schedule and waits for in-flight deliveries,
// cancelling them once ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.logger.Info("Shutting down alert dispatcher")

	d.cronMu.Lock()
	if d.cron != nil {
		<-d.cron.Stop().Done()
		d.cron = nil
	}
	d.cronMu.Unlock()

	err := d.Flush(ctx)
	d.shutdownCancel()
	if err != nil {
		d.logger.Warn("Alert dispatcher shutdown timeout")
		return err
	}
	d.logger.Info("Alert dispatcher shutdown complete")
	return nil
}

// acquireWorker takes a worker slot, waiting up to workerPoolTimeout when the
// pool is full. The wait timer is always stopped so that no pending timer
// outlives the call.
func (d *Dispatcher) acquireWorker() bool {
	select {
	case d.workerPool <- struct{}{}:
		return true
	default:
	}

	timer := d.clock.Timer(workerPoolTimeout)
	defer timer.Stop()
	select {
	case d.workerPool <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}
