package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RateLimitError represents a 429 response from a webhook endpoint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string // Optional custom message
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a 4xx response. Not retried.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents a 5xx response. Retried.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

func is429Error(err error) (*RateLimitError, bool) {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr, true
	}
	return nil, false
}

// isRetryableError treats server and transport errors as transient.
func isRetryableError(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return false
	}
	return true
}

func truncate(text string, maxLength int, suffix string) string {
	if len(text) <= maxLength {
		return text
	}

	truncateAt := maxLength - len(suffix)
	if truncateAt < 0 {
		truncateAt = 0
	}

	return text[:truncateAt] + suffix
}

// retryAfterBody is the shape both Slack and Discord use for 429 bodies.
type retryAfterBody struct {
	RetryAfter float64 `json:"retry_after"` // In seconds
}

// extractRetryAfter reads the wait from the JSON body, then the Retry-After
// header, defaulting to 5 seconds.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var parsed retryAfterBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter > 0 {
		return time.Duration(parsed.RetryAfter * float64(time.Second))
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 5 * time.Second
}

// postJSON posts payload to url and maps the response to the typed errors above.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    service + " rate limit exceeded",
			RetryAfter: extractRetryAfter(resp, body),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API client error: %s", service, string(body)),
		}
	case resp.StatusCode >= 500:
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API server error: %s", service, string(body)),
		}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

// retrySettings bounds webhook retries.
type retrySettings struct {
	maxAttempts int
	baseDelay   time.Duration
	// maxRetryAfter caps how long a 429 may make us wait
	maxRetryAfter time.Duration
}

func defaultRetrySettings() retrySettings {
	return retrySettings{
		maxAttempts:   2,
		baseDelay:     5 * time.Second,
		maxRetryAfter: 30 * time.Second,
	}
}

// sendWithRetry runs send with the webhook retry strategy:
//   - 429 errors wait for the server supplied retry_after
//   - server and transport errors back off linearly
//   - client errors fail immediately
func sendWithRetry(ctx context.Context, service string, rs retrySettings, send func(context.Context) error) error {
	requestID, _ := ctx.Value(requestIDKey).(string)

	var lastErr error
	for attempt := 1; attempt <= rs.maxAttempts; attempt++ {
		err := send(ctx)
		if err == nil {
			slog.Info(service+" notification successful",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		if attempt == rs.maxAttempts {
			break
		}

		var delay time.Duration
		if rateLimitErr, ok := is429Error(err); ok {
			delay = min(rateLimitErr.RetryAfter, rs.maxRetryAfter)
			slog.Warn(service+" rate limit hit, backing off",
				slog.String("request_id", requestID),
				slog.Duration("retry_after", delay),
				slog.Int("attempt", attempt))
		} else if !isRetryableError(err) {
			slog.Error(service+" notification failed with non-retryable error",
				slog.String("request_id", requestID),
				slog.Any("error", err),
				slog.Int("attempt", attempt))
			return err
		} else {
			delay = rs.baseDelay * time.Duration(attempt)
			slog.Warn(service+" API request failed, retrying",
				slog.String("request_id", requestID),
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("%s notification failed after %d attempts: %w", service, rs.maxAttempts, lastErr)
}
