// Package source fetches upstream payloads and maps them into normalized
// records. Each adapter performs a single attempt; retries are applied by the
// caller around the circuit breaker installed by the Factory.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"techpulse/internal/domain/entity"
	"techpulse/internal/resilience/circuitbreaker"
	"techpulse/internal/resilience/retry"
)

const (
	maxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultUserAgent identifies the service to upstream APIs.
	DefaultUserAgent = "techpulse/1.0 (+https://github.com/techpulse)"

	defaultTimeout = 10 * time.Second
	defaultLimit   = 10
)

// Source fetches one upstream.
type Source interface {
	Spec() entity.SourceSpec
	Fetch(ctx context.Context) ([]entity.NormalizedRecord, error)
}

// base carries what every HTTP adapter shares.
type base struct {
	spec   entity.SourceSpec
	client *http.Client
}

func (b base) Spec() entity.SourceSpec { return b.spec }

func (b base) userAgent() string {
	if b.spec.UserAgent != "" {
		return b.spec.UserAgent
	}
	return DefaultUserAgent
}

func (b base) limit() int {
	if b.spec.Limit > 0 {
		return b.spec.Limit
	}
	return defaultLimit
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := b.spec.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (b base) origin() entity.SourceOrigin {
	return entity.UpstreamOrigin(b.spec.Name)
}

func (b base) recordID(i int) string {
	return fmt.Sprintf("%s-%d", b.spec.Name, i+1)
}

// get performs a GET and returns the body for a 200 response. Any other
// status becomes a retry.HTTPError.
func (b base) get(ctx context.Context, url, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", b.userAgent())
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status: %s", resp.Status),
		}
	}
	return resp.Body, nil
}

// getJSON decodes a JSON response into dst.
func (b base) getJSON(ctx context.Context, url string, dst any) error {
	body, err := b.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(io.LimitReader(body, maxBodySize)).Decode(dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", b.spec.Name, err)
	}
	return nil
}

// guarded runs a Source through its circuit breaker.
type guarded struct {
	Source
	cb *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps src with a per-source circuit breaker.
func WithBreaker(src Source, cb *circuitbreaker.CircuitBreaker) Source {
	if cb == nil {
		return src
	}
	return guarded{Source: src, cb: cb}
}

func (g guarded) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	records, err := circuitbreaker.Run(g.cb, func() ([]entity.NormalizedRecord, error) {
		return g.Source.Fetch(ctx)
	})
	if circuitbreaker.IsRejection(err) {
		slog.Warn("source circuit breaker open, request rejected",
			slog.String("source", g.Spec().Name),
			slog.String("state", g.cb.State().String()))
	}
	return records, err
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseTime tries the layouts upstream APIs use and returns the zero time
// when none match.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"Jan 2, 2006",
		"January 2, 2006",
		"2006-01-02 15:04:05 MST",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
