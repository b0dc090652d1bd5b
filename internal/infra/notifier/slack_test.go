package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() Message {
	return Message{
		Subject:   "Critical error detected",
		Body:      "postgres: connection refused",
		Severity:  SeverityCritical,
		Fields:    []Field{{Name: "Type", Value: "database-disconnect"}, {Name: "Count", Value: "3"}},
		Timestamp: time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC),
	}
}

func fastSlack(url string) *SlackNotifier {
	n := NewSlackNotifier(SlackConfig{Enabled: true, WebhookURL: url, Timeout: 2 * time.Second})
	n.retry = retrySettings{maxAttempts: 2, baseDelay: 10 * time.Millisecond, maxRetryAfter: 20 * time.Millisecond}
	n.rateLimiter = NewRateLimiter(1000, 10)
	return n
}

func TestSlackNotifier_buildBlockKitPayload(t *testing.T) {
	n := NewSlackNotifier(SlackConfig{WebhookURL: "https://hooks.slack.com/services/test"})

	payload := n.buildBlockKitPayload(testMessage())

	require.Len(t, payload.Blocks, 4)
	assert.Equal(t, "Critical error detected", payload.Text)

	assert.Equal(t, "header", payload.Blocks[0].Type)
	assert.Equal(t, ":rotating_light: Critical error detected", payload.Blocks[0].Text.Text)

	assert.Equal(t, "section", payload.Blocks[1].Type)
	assert.Equal(t, "postgres: connection refused", payload.Blocks[1].Text.Text)

	require.Len(t, payload.Blocks[2].Fields, 2)
	assert.Equal(t, "*Type*\ndatabase-disconnect", payload.Blocks[2].Fields[0].Text)

	assert.Equal(t, "context", payload.Blocks[3].Type)
	assert.Equal(t, "CRITICAL • 2025-11-15T12:00:00Z", payload.Blocks[3].Elements[0].Text)
}

func TestSlackNotifier_buildBlockKitPayload_Truncates(t *testing.T) {
	n := NewSlackNotifier(SlackConfig{})
	msg := Message{Subject: strings.Repeat("s", 400), Body: strings.Repeat("b", 5000), Severity: SeverityInfo}

	payload := n.buildBlockKitPayload(msg)

	assert.LessOrEqual(t, len(payload.Text), maxFallbackLength)
	assert.LessOrEqual(t, len(payload.Blocks[0].Text.Text), maxHeaderTextLength)
	assert.LessOrEqual(t, len(payload.Blocks[1].Text.Text), maxSectionTextLength)
	assert.True(t, strings.HasSuffix(payload.Blocks[1].Text.Text, "..."))
}

func TestSlackNotifier_Send_Success(t *testing.T) {
	var received SlackWebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := fastSlack(server.URL).Send(context.Background(), testMessage())

	require.NoError(t, err)
	assert.Equal(t, "Critical error detected", received.Text)
}

func TestSlackNotifier_Send_RetriesServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := fastSlack(server.URL).Send(context.Background(), testMessage())

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSlackNotifier_Send_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer server.Close()

	err := fastSlack(server.URL).Send(context.Background(), testMessage())

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusNotFound, clientErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSlackNotifier_Send_RateLimited(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := fastSlack(server.URL).Send(context.Background(), testMessage())

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, time.Second, rateErr.RetryAfter)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSlackNotifier_Send_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewSlackNotifier(SlackConfig{WebhookURL: "https://hooks.slack.com/services/test", Timeout: time.Second})
	n.rateLimiter = NewRateLimiter(0.001, 1)
	_ = n.rateLimiter.Allow(context.Background()) // drain the only token

	err := n.Send(ctx, testMessage())
	assert.Error(t, err)
}

func TestSlackNotifier_Name(t *testing.T) {
	assert.Equal(t, "slack", NewSlackNotifier(SlackConfig{}).Name())
}
