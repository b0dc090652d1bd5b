package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techpulse/internal/app"
	"techpulse/internal/domain/entity"
	"techpulse/internal/observability/metrics"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/monitor"
	"techpulse/internal/usecase/refresh"
)

var refreshedAt = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type fakeCore struct {
	mu         sync.Mutex
	ready      bool
	overall    health.Status
	outcomeErr error
	getErr     error
	cleared    bool
	forced     []entity.ResourceType
	gets       []bool
	panicOnGet bool
}

func (f *fakeCore) set(r entity.ResourceType) entity.CachedResourceSet {
	return entity.CachedResourceSet{
		Resource:        r,
		Records:         []entity.NormalizedRecord{{Title: "Go 1.26 released"}},
		LastRefreshedAt: refreshedAt,
	}
}

func (f *fakeCore) GetCachedResource(_ context.Context, r entity.ResourceType, force bool) (entity.CachedResourceSet, error) {
	if f.panicOnGet {
		panic("cache corrupted")
	}
	f.mu.Lock()
	f.gets = append(f.gets, force)
	f.mu.Unlock()
	if f.getErr != nil {
		return entity.CachedResourceSet{}, f.getErr
	}
	return f.set(r), nil
}

func (f *fakeCore) ForceRefresh(_ context.Context, r entity.ResourceType) (refresh.Outcome, error) {
	f.mu.Lock()
	f.forced = append(f.forced, r)
	f.mu.Unlock()
	if f.outcomeErr != nil {
		return refresh.Outcome{Set: f.set(r), Reason: "in_progress", Err: f.outcomeErr}, nil
	}
	return refresh.Outcome{Set: f.set(r), Refreshed: true}, nil
}

func (f *fakeCore) GetRefreshStatus(r entity.ResourceType) (refresh.Status, error) {
	return refresh.Status{Resource: r, RecordCount: 1, LastRefreshedAt: refreshedAt}, nil
}

func (f *fakeCore) RefreshStatuses() []refresh.Status {
	var out []refresh.Status
	for _, r := range entity.AllResources() {
		st, _ := f.GetRefreshStatus(r)
		out = append(out, st)
	}
	return out
}

func (f *fakeCore) GetErrorStats() monitor.Stats {
	return monitor.Stats{Counts: map[monitor.Severity]int{monitor.SeverityCritical: 2}, TotalErrors: 2}
}

func (f *fakeCore) ClearErrorStats(context.Context) { f.cleared = true }

// GetHealthStatus reports no snapshot while overall is unset.
func (f *fakeCore) GetHealthStatus() (health.Snapshot, bool) {
	if f.overall == "" {
		return health.Snapshot{}, false
	}
	return health.Snapshot{Timestamp: refreshedAt, Overall: f.overall}, true
}

func (f *fakeCore) Dashboard(context.Context) app.Dashboard {
	return app.Dashboard{GeneratedAt: refreshedAt, Ready: f.ready, Errors: f.GetErrorStats(), Refresh: f.RefreshStatuses()}
}

func (f *fakeCore) Ready() bool { return f.ready }

func newTestRouter(core *fakeCore, opts Options) http.Handler {
	opts.Logger = discardLogger()
	return NewRouter(core, opts)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_Liveness(t *testing.T) {
	rec := do(t, newTestRouter(&fakeCore{}, Options{}), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestRouter_Readiness(t *testing.T) {
	core := &fakeCore{}
	h := newTestRouter(core, Options{})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health/ready").Code)

	core.ready = true
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/ready").Code)
}

func TestRouter_HealthStatus(t *testing.T) {
	tests := []struct {
		overall health.Status
		want    int
	}{
		{health.StatusHealthy, http.StatusOK},
		{health.StatusDegraded, http.StatusOK},
		{health.StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.overall), func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeCore{overall: tt.overall}, Options{}), http.MethodGet, "/health/status")

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
			snap := decodeBody[health.Snapshot](t, rec)
			assert.Equal(t, tt.overall, snap.Overall)
		})
	}
}

func TestRouter_HealthStatusBeforeFirstCheck(t *testing.T) {
	rec := do(t, newTestRouter(&fakeCore{}, Options{}), http.MethodGet, "/health/status")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"pending","message":"no health check has run yet"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Health-Checked-At"))
}

func TestRouter_GetResource(t *testing.T) {
	core := &fakeCore{}
	h := newTestRouter(core, Options{})

	rec := do(t, h, http.MethodGet, "/api/news")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[ResourceResponse](t, rec)
	assert.Equal(t, entity.ResourceNews, body.Resource)
	assert.Equal(t, 1, body.Count)
	require.NotNil(t, body.LastRefreshedAt)
	assert.True(t, refreshedAt.Equal(*body.LastRefreshedAt))

	do(t, h, http.MethodGet, "/api/hackathons?refresh=true")
	assert.Equal(t, []bool{false, true}, core.gets)
}

func TestRouter_GetResource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		getErr error
		want   int
	}{
		{name: "unknown resource", target: "/api/videos", want: http.StatusNotFound},
		{name: "bad refresh flag", target: "/api/news?refresh=maybe", want: http.StatusBadRequest},
		{name: "core unknown resource", target: "/api/news", getErr: entity.ErrUnknownResource, want: http.StatusNotFound},
		{name: "internal failure is hidden", target: "/api/news", getErr: errors.New("postgres://u:pw@db refused"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeCore{getErr: tt.getErr}, Options{}), http.MethodGet, tt.target)

			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "pw@")
		})
	}
}

func TestRouter_Refresh(t *testing.T) {
	core := &fakeCore{}
	rec := do(t, newTestRouter(core, Options{}), http.MethodPost, "/api/refresh/hackathons")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[RefreshResponse](t, rec)
	assert.True(t, body.Refreshed)
	assert.Equal(t, entity.ResourceHackathons, body.Resource)
	assert.Equal(t, []entity.ResourceType{entity.ResourceHackathons}, core.forced)
}

func TestRouter_Refresh_InProgressIsConflict(t *testing.T) {
	core := &fakeCore{outcomeErr: refresh.ErrRefreshInProgress}
	rec := do(t, newTestRouter(core, Options{}), http.MethodPost, "/api/refresh/news")

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[RefreshResponse](t, rec)
	assert.False(t, body.Refreshed)
	assert.Equal(t, refresh.ErrRefreshInProgress.Error(), body.Error)
}

func TestRouter_Refresh_RateLimited(t *testing.T) {
	h := newTestRouter(&fakeCore{}, Options{RefreshRateLimit: 2})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/refresh/news").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/refresh/news").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/refresh/news").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/news").Code, "reads are not limited")
}

func TestRouter_ForcedReadSharesRefreshBudget(t *testing.T) {
	core := &fakeCore{}
	h := newTestRouter(core, Options{RefreshRateLimit: 2})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/refresh/news").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/news?refresh=true").Code)

	rec := do(t, h, http.MethodGet, "/api/hackathons?refresh=true")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, []bool{true}, core.gets, "the rejected read never reached the core")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/news").Code)
}

func TestRouter_RefreshStatus(t *testing.T) {
	h := newTestRouter(&fakeCore{}, Options{})

	all := decodeBody[[]refresh.Status](t, do(t, h, http.MethodGet, "/api/refresh/status"))
	assert.Len(t, all, 2)

	one := decodeBody[refresh.Status](t, do(t, h, http.MethodGet, "/api/refresh/status?resource=news"))
	assert.Equal(t, entity.ResourceNews, one.Resource)
	assert.Equal(t, 1, one.RecordCount)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/refresh/status?resource=videos").Code)
}

func TestRouter_Monitoring(t *testing.T) {
	core := &fakeCore{ready: true}
	h := newTestRouter(core, Options{})

	stats := decodeBody[monitor.Stats](t, do(t, h, http.MethodGet, "/api/monitoring/errors"))
	assert.Equal(t, 2, stats.TotalErrors)

	rec := do(t, h, http.MethodPost, "/api/monitoring/errors/clear")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, core.cleared)

	d := decodeBody[app.Dashboard](t, do(t, h, http.MethodGet, "/api/monitoring/dashboard"))
	assert.True(t, d.Ready)
	assert.Len(t, d.Refresh, 2)
}

func TestRouter_RecoversPanics(t *testing.T) {
	rec := do(t, newTestRouter(&fakeCore{panicOnGet: true}, Options{}), http.MethodGet, "/api/news")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRouter_CORS(t *testing.T) {
	h := newTestRouter(&fakeCore{}, Options{AllowedOrigins: []string{"https://techpulse.dev"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/news", nil)
	req.Header.Set("Origin", "https://techpulse.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://techpulse.dev", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/news", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MetricsUseRoutePattern(t *testing.T) {
	h := newTestRouter(&fakeCore{}, Options{})
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/{resource}", "200")
	before := testutil.ToFloat64(counter)

	do(t, h, http.MethodGet, "/api/news")
	do(t, h, http.MethodGet, "/api/hackathons")

	assert.Equal(t, before+2, testutil.ToFloat64(counter))

	rec := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_in_flight")
}

func TestRouter_UnmatchedRoute(t *testing.T) {
	h := newTestRouter(&fakeCore{}, Options{})
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")
	before := testutil.ToFloat64(counter)

	rec := do(t, h, http.MethodGet, "/nope/deeper/path")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
