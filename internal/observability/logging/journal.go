package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal names, one append-only file per concern.
const (
	JournalErrors  = "errors"
	JournalHealth  = "health"
	JournalAlerts  = "alerts"
	JournalRefresh = "refresh"
)

// JournalOptions controls file rotation.
type JournalOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultJournalOptions returns rotation settings suited to operational logs.
func DefaultJournalOptions() JournalOptions {
	return JournalOptions{
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Journal is an append-only, line-oriented JSON log for one concern.
// Lines are only ever appended; rotation moves whole files aside.
type Journal struct {
	name   string
	logger *slog.Logger
	closer io.Closer
}

// NewJournal writes journal lines to w. Used directly by tests.
func NewJournal(name string, w io.Writer) *Journal {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: utcTime,
	})
	j := &Journal{
		name:   name,
		logger: slog.New(handler).With(slog.String("journal", name)),
	}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// OpenJournal opens (or creates) dir/<name>.log behind a rotating writer.
func OpenJournal(dir, name string, opts JournalOptions) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return NewJournal(name, w), nil
}

// DiscardJournal returns a journal that drops every line.
func DiscardJournal(name string) *Journal {
	return NewJournal(name, io.Discard)
}

// Name returns the journal name.
func (j *Journal) Name() string { return j.name }

// Append writes one line. Journals never fail the caller.
func (j *Journal) Append(ctx context.Context, msg string, attrs ...slog.Attr) {
	if j == nil {
		return
	}
	j.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Close flushes and closes the underlying file, if any.
func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// Journals bundles the per-concern journals.
type Journals struct {
	Errors  *Journal
	Health  *Journal
	Alerts  *Journal
	Refresh *Journal
}

// OpenJournals opens every journal under dir. An empty dir yields discard journals.
func OpenJournals(dir string, opts JournalOptions) (*Journals, error) {
	if dir == "" {
		return DiscardJournals(), nil
	}
	js := &Journals{}
	var err error
	for _, target := range []struct {
		name string
		dst  **Journal
	}{
		{JournalErrors, &js.Errors},
		{JournalHealth, &js.Health},
		{JournalAlerts, &js.Alerts},
		{JournalRefresh, &js.Refresh},
	} {
		*target.dst, err = OpenJournal(dir, target.name, opts)
		if err != nil {
			_ = js.Close()
			return nil, err
		}
	}
	return js, nil
}

// DiscardJournals returns journals that drop every line.
func DiscardJournals() *Journals {
	return &Journals{
		Errors:  DiscardJournal(JournalErrors),
		Health:  DiscardJournal(JournalHealth),
		Alerts:  DiscardJournal(JournalAlerts),
		Refresh: DiscardJournal(JournalRefresh),
	}
}

// Close closes every journal.
func (js *Journals) Close() error {
	var errs []error
	for _, j := range []*Journal{js.Errors, js.Health, js.Alerts, js.Refresh} {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// utcTime renders the record time as RFC3339Nano in UTC.
func utcTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	return a
}
