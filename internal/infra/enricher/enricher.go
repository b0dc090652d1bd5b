// Package enricher fills in missing record summaries by fetching the record's
// page and extracting its main text with go-readability. Enrichment is best
// effort: a record that cannot be enriched keeps its original summary.
package enricher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"techpulse/internal/domain/entity"
	"techpulse/internal/infra/source"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/resilience/circuitbreaker"
	"techpulse/internal/resilience/retry"
)

// Sentinel errors returned by Extract.
var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrBodyTooLarge     = errors.New("response body too large")
	ErrNoContent        = errors.New("no readable content found")
)

// Enricher extracts page text for records with thin summaries.
// It is safe for concurrent use.
type Enricher struct {
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	cfg     Config
	logger  *slog.Logger
	// validate checks a URL before it is requested, including redirect targets.
	validate func(string) error
}

// New creates an Enricher.
func New(cfg Config, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enricher{
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "summary-enrichment",
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.6,
			MinRequests:      5,
		}),
		cfg:    cfg,
		logger: logger,
	}
	e.validate = entity.ValidateURL
	if cfg.DenyPrivateIPs {
		e.validate = entity.ValidateFetchURL
	}

	e.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= e.cfg.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := e.validate(req.URL.String()); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}
	return e
}

// Enrich returns a copy of records where every record with a summary shorter
// than the threshold has been given an extracted summary, when one could be
// found. It never fails; individual extraction errors are logged at debug.
func (e *Enricher) Enrich(ctx context.Context, records []entity.NormalizedRecord) []entity.NormalizedRecord {
	out := make([]entity.NormalizedRecord, len(records))
	copy(out, records)
	if !e.cfg.Enabled {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i := range out {
		if utf8.RuneCountInString(out[i].Summary) >= e.cfg.Threshold || out[i].URL == "" {
			continue
		}
		g.Go(func() error {
			text, err := e.Extract(gctx, out[i].URL)
			if err != nil {
				metrics.RecordEnrichment("failure")
				e.logger.Debug("summary enrichment skipped",
					slog.String("record_id", out[i].ID),
					slog.String("url", out[i].URL),
					slog.String("error", err.Error()))
				return nil
			}
			metrics.RecordEnrichment("success")
			out[i].Summary = text
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Extract fetches rawURL and returns its readable text, trimmed to the
// configured summary length.
func (e *Enricher) Extract(ctx context.Context, rawURL string) (string, error) {
	if err := e.validate(rawURL); err != nil {
		return "", err
	}
	text, err := circuitbreaker.Run(e.breaker, func() (string, error) {
		return e.fetch(ctx, rawURL)
	})
	if err != nil {
		return "", err
	}
	return truncate(text, e.cfg.SummaryLength), nil
}

func (e *Enricher) fetch(ctx context.Context, rawURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", source.DefaultUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			return "", urlErr.Err
		}
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > e.cfg.MaxBodySize {
		return "", fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, e.cfg.MaxBodySize)
	}

	pageURL := resp.Request.URL
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}

	if text := strings.TrimSpace(article.Excerpt); text != "" {
		return text, nil
	}
	if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
		return text, nil
	}
	return "", ErrNoContent
}

// truncate cuts s to at most n runes on a word boundary and appends an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
