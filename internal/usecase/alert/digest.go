package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"techpulse/internal/infra/notifier"
	"techpulse/internal/observability/metrics"
)

// DigestSection is one titled block of the digest body.
type DigestSection struct {
	Title string
	Lines []string
}

// DigestSource supplies digest content covering the period after since.
// since is zero for the first digest of the process.
type DigestSource interface {
	DigestSections(ctx context.Context, since time.Time) []DigestSection
}

// DigestSourceFunc adapts a function to DigestSource.
type DigestSourceFunc func(ctx context.Context, since time.Time) []DigestSection

// DigestSections calls f.
func (f DigestSourceFunc) DigestSections(ctx context.Context, since time.Time) []DigestSection {
	return f(ctx, since)
}

// SendDigest delivers the periodic summary to every enabled channel and
// waits for the deliveries. The digest bypasses the cooldown.
func (d *Dispatcher) SendDigest(ctx context.Context) error {
	if !d.cfg.Enabled {
		metrics.RecordAlert(TypeDigest, "disabled")
		return nil
	}

	now := d.clock.Now()
	d.mu.Lock()
	since := d.lastDigest
	d.mu.Unlock()

	var sections []DigestSection
	if d.digest != nil {
		sections = d.digest.DigestSections(ctx, since)
	}
	msg := composeDigest(sections, since, now)

	results := make(chan error, len(d.channels))
	requestID := requestIDFrom(ctx)
	started := d.dispatch(requestID, msg, results)

	var errs []error
	for i := 0; i < started; i++ {
		select {
		case err := <-results:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			metrics.RecordAlert(TypeDigest, "failed")
			return fmt.Errorf("waiting for digest delivery: %w", ctx.Err())
		}
	}

	d.mu.Lock()
	d.lastDigest = now
	d.mu.Unlock()

	err := errors.Join(errs...)
	result := "sent"
	if err != nil {
		result = "failed"
	}
	metrics.RecordAlert(TypeDigest, result)
	d.journal.Append(ctx, "digest sent",
		slog.String("request_id", requestID),
		slog.Time("since", since),
		slog.Int("sections", len(sections)),
		slog.Int("channels", started),
		slog.Int("failed_channels", len(errs)))
	return err
}

func composeDigest(sections []DigestSection, since, now time.Time) notifier.Message {
	var b strings.Builder
	if since.IsZero() {
		fmt.Fprintf(&b, "Report generated %s.\n", now.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "Period %s to %s.\n",
			since.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	for _, s := range sections {
		b.WriteString("\n")
		b.WriteString(s.Title)
		b.WriteString("\n")
		if len(s.Lines) == 0 {
			b.WriteString("  (nothing to report)\n")
			continue
		}
		for _, line := range s.Lines {
			b.WriteString("  - ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return notifier.Message{
		Subject:   "Daily techpulse report " + now.Format("2006-01-02"),
		Body:      strings.TrimRight(b.String(), "\n"),
		Severity:  notifier.SeverityInfo,
		Timestamp: now,
	}
}
