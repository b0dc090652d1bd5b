package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockWatcher(t *testing.T) (*Watcher, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewWatcher(sqlDB, WithPingTimeout(time.Second)), mock
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestWatcher_LifecycleEvents(t *testing.T) {
	w, mock := newMockWatcher(t)
	ctx := context.Background()
	refused := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

	mock.ExpectPing()
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(refused)
	mock.ExpectPing().WillReturnError(refused)
	mock.ExpectPing()

	w.Check(ctx)
	assert.Equal(t, EventConnected, nextEvent(t, w).Type)

	w.Check(ctx)
	assertNoEvent(t, w)

	w.Check(ctx)
	ev := nextEvent(t, w)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.ErrorIs(t, ev.Err, refused)

	w.Check(ctx)
	assertNoEvent(t, w)

	w.Check(ctx)
	assert.Equal(t, EventReconnected, nextEvent(t, w).Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWatcher_ServerErrorKeepsLinkUp(t *testing.T) {
	w, mock := newMockWatcher(t)
	ctx := context.Background()

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(&pgconn.PgError{Code: "53300", Message: "too many connections"})
	mock.ExpectPing()

	w.Check(ctx)
	nextEvent(t, w)

	w.Check(ctx)
	ev := nextEvent(t, w)
	assert.Equal(t, EventError, ev.Type)

	w.Check(ctx)
	assertNoEvent(t, w)
}

func TestWatcher_ReconnectMarksLinkUp(t *testing.T) {
	w, mock := newMockWatcher(t)
	ctx := context.Background()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()
	mock.ExpectPing()

	w.Check(ctx)
	assert.Equal(t, EventDisconnected, nextEvent(t, w).Type)

	require.NoError(t, w.Reconnect(ctx))

	w.Check(ctx)
	assertNoEvent(t, w)
}

func TestWatcher_NotConfigured(t *testing.T) {
	w := NewWatcher(nil)

	assert.False(t, w.Configured())
	assert.ErrorIs(t, w.Ping(context.Background()), ErrNotConfigured)
	assert.ErrorIs(t, w.Reconnect(context.Background()), ErrNotConfigured)
	_, ok := w.Stats()
	assert.False(t, ok)

	w.Run(context.Background())
}

func TestWatcher_Stats(t *testing.T) {
	w, _ := newMockWatcher(t)
	_, ok := w.Stats()
	assert.True(t, ok)
}
