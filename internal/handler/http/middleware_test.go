package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techpulse/internal/handler/http/requestid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/refresh/news", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, ClientIP{})
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("192.0.2.1"))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429}, codes)
}

func TestRateLimiter_RejectionBody(t *testing.T) {
	rl := NewRateLimiter(1, ClientIP{})
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("192.0.2.1"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, ClientIP{})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.allow("a"), "one token refills every 30s at 2/min")
	assert.False(t, rl.allow("a"))
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	rl := NewRateLimiter(1, ClientIP{})

	assert.True(t, rl.allow("192.0.2.1"))
	assert.False(t, rl.allow("192.0.2.1"))
	assert.True(t, rl.allow("192.0.2.2"))
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, ClientIP{})
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.allow("a")
	rl.allow("b")
	require.Equal(t, 2, rl.Clients())

	now = now.Add(11 * time.Minute)
	rl.allow("c")

	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(50, ClientIP{})
	rl.now = func() time.Time { return now }

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.allow("192.0.2.9") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestClientIP(t *testing.T) {
	trusted := NewClientIP([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})

	tests := []struct {
		name       string
		resolver   ClientIP
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{name: "remote addr", resolver: trusted, remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "trusted proxy forwarded for first hop", resolver: trusted, remoteAddr: "10.0.0.1:1", xff: "203.0.113.5, 10.0.0.1", want: "203.0.113.5"},
		{name: "trusted proxy forwarded for with spaces", resolver: trusted, remoteAddr: "10.0.0.1:1", xff: " 203.0.113.6 ", want: "203.0.113.6"},
		{name: "trusted proxy invalid forwarded for falls back to real ip", resolver: trusted, remoteAddr: "10.0.0.1:1", xff: "garbage", xri: "203.0.113.7", want: "203.0.113.7"},
		{name: "trusted proxy invalid headers fall back to remote", resolver: trusted, remoteAddr: "10.0.0.1:1", xff: "nope", xri: "nope", want: "10.0.0.1"},
		{name: "untrusted peer cannot spoof forwarded for", resolver: trusted, remoteAddr: "192.0.2.1:1", xff: "203.0.113.5", want: "192.0.2.1"},
		{name: "untrusted peer cannot spoof real ip", resolver: trusted, remoteAddr: "192.0.2.1:1", xri: "203.0.113.7", want: "192.0.2.1"},
		{name: "no trusted proxies ignores headers", resolver: ClientIP{}, remoteAddr: "10.0.0.1:1", xff: "203.0.113.5", want: "10.0.0.1"},
		{name: "ipv6", resolver: trusted, remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", resolver: trusted, remoteAddr: "192.0.2.4", want: "192.0.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, tt.resolver.FromRequest(req))
		})
	}
}

func TestRateLimiter_SpoofedHeadersShareBudget(t *testing.T) {
	rl := NewRateLimiter(1, NewClientIP(nil))
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := requestFrom("192.0.2.1")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 429, 429}, codes)
}

func TestParseFirstIP(t *testing.T) {
	assert.Equal(t, "192.0.2.1", parseFirstIP("192.0.2.1"))
	assert.Equal(t, "192.0.2.1", parseFirstIP("192.0.2.1,192.0.2.2"))
	assert.Equal(t, "", parseFirstIP("bad,192.0.2.2"))
	assert.Equal(t, "", parseFirstIP(""))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := requestid.Middleware(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/news?refresh=true", nil)
	req.Header.Set(requestid.RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "/api/news", entry["path"])
	assert.Equal(t, "refresh=true", entry["query"])
	assert.EqualValues(t, http.StatusAccepted, entry["status"])
	assert.EqualValues(t, 5, entry["bytes"])
}

func TestLogging_ServerErrorsAreWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("something broke")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "something broke")
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	handler := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLimitRequestBody(t *testing.T) {
	handler := LimitRequestBody(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	small := httptest.NewRecorder()
	handler.ServeHTTP(small, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	assert.Equal(t, http.StatusOK, small.Code)

	large := httptest.NewRecorder()
	handler.ServeHTTP(large, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, large.Code)
}
