package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/jackc/pgx/v5/pgconn"
)

// EventType names a database lifecycle transition.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventReconnected  EventType = "reconnected"
)

// Event is one lifecycle transition observed by the Watcher.
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// Pinger is the part of *sql.DB the watcher needs.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type linkState int

const (
	linkUnknown linkState = iota
	linkUp
	linkDown
)

// Watcher turns periodic pings into lifecycle events. database/sql does not
// expose connection events, so connectivity changes are inferred from ping
// results: a ping that fails without a server response means the link is
// down, while a server-side error leaves the link up and emits EventError.
type Watcher struct {
	db          Pinger
	clock       clock.Clock
	interval    time.Duration
	pingTimeout time.Duration
	logger      *slog.Logger
	events      chan Event

	mu    sync.Mutex
	state linkState
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithClock sets the clock that drives the ping ticker.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithInterval sets the ping interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithPingTimeout bounds each ping.
func WithPingTimeout(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pingTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a Watcher for db. A nil db is allowed and always reports
// ErrNotConfigured.
func NewWatcher(db Pinger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		db:          db,
		clock:       clock.New(),
		interval:    30 * time.Second,
		pingTimeout: 5 * time.Second,
		logger:      slog.Default(),
		events:      make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the lifecycle event stream.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Configured reports whether a database is attached.
func (w *Watcher) Configured() bool {
	return w.db != nil
}

// Ping checks connectivity once, bounded by the ping timeout.
func (w *Watcher) Ping(ctx context.Context) error {
	if w.db == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, w.pingTimeout)
	defer cancel()
	return w.db.PingContext(ctx)
}

// Stats returns pool statistics when the database is an *sql.DB.
func (w *Watcher) Stats() (sql.DBStats, bool) {
	if sqlDB, ok := w.db.(*sql.DB); ok && sqlDB != nil {
		return sqlDB.Stats(), true
	}
	return sql.DBStats{}, false
}

// Reconnect forces the pool to establish a connection. On success the link is
// marked up without emitting an event; the caller owns that transition.
func (w *Watcher) Reconnect(ctx context.Context) error {
	if err := w.Ping(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.state = linkUp
	w.mu.Unlock()
	return nil
}

// Run checks once immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	if w.db == nil {
		return
	}
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check pings once and emits an event when the observed state changes.
func (w *Watcher) Check(ctx context.Context) {
	err := w.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	now := w.clock.Now()

	w.mu.Lock()
	prev := w.state
	var ev *Event
	switch {
	case err == nil && prev == linkUnknown:
		w.state = linkUp
		ev = &Event{Type: EventConnected, At: now}
	case err == nil && prev == linkDown:
		w.state = linkUp
		ev = &Event{Type: EventReconnected, At: now}
	case err != nil && isServerError(err):
		ev = &Event{Type: EventError, Err: err, At: now}
	case err != nil && prev != linkDown:
		w.state = linkDown
		ev = &Event{Type: EventDisconnected, Err: err, At: now}
	}
	w.mu.Unlock()

	if ev != nil {
		w.emit(*ev)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("database event dropped: consumer not keeping up",
			slog.String("event", string(ev.Type)))
	}
}

// isServerError reports whether the server answered with an error, which
// means the connection itself is alive.
func isServerError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
