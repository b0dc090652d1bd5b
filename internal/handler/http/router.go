package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"techpulse/internal/app"
	"techpulse/internal/domain/entity"
	"techpulse/internal/handler/http/requestid"
	"techpulse/internal/observability/tracing"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/monitor"
	"techpulse/internal/usecase/refresh"
)

// Core is what the router needs from the application core.
type Core interface {
	GetCachedResource(ctx context.Context, r entity.ResourceType, forceRefresh bool) (entity.CachedResourceSet, error)
	ForceRefresh(ctx context.Context, r entity.ResourceType) (refresh.Outcome, error)
	GetRefreshStatus(r entity.ResourceType) (refresh.Status, error)
	RefreshStatuses() []refresh.Status
	GetErrorStats() monitor.Stats
	ClearErrorStats(ctx context.Context)
	GetHealthStatus() (health.Snapshot, bool)
	Dashboard(ctx context.Context) app.Dashboard
	Ready() bool
}

// Options configures NewRouter.
type Options struct {
	Logger           *slog.Logger
	RequestTimeout   time.Duration
	AllowedOrigins   []string
	RefreshRateLimit int
	MaxBodyBytes     int64
	// TrustedProxies are the peers whose forwarding headers identify the client
	TrustedProxies []netip.Prefix
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 90 * time.Second
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.RefreshRateLimit <= 0 {
		o.RefreshRateLimit = 6
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
}

type handlers struct {
	core    Core
	limiter *RateLimiter
}

// NewRouter builds the HTTP handler serving core.
func NewRouter(core Core, opts Options) http.Handler {
	opts.defaults()
	limiter := NewRateLimiter(opts.RefreshRateLimit, NewClientIP(opts.TrustedProxies))
	h := &handlers{core: core, limiter: limiter}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(tracing.Middleware)
	r.Use(Recover(opts.Logger))
	r.Use(Logging(opts.Logger))
	r.Use(Metrics)
	r.Use(LimitRequestBody(opts.MaxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestid.RequestIDHeader},
		ExposedHeaders: []string{requestid.RequestIDHeader, "X-Trace-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Liveness)
	r.Get("/health/ready", h.Readiness)
	r.Handle("/metrics", MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(Timeout(opts.RequestTimeout))

		r.Get("/health/status", h.HealthStatus)

		r.Route("/api", func(r chi.Router) {
			r.Get("/refresh/status", h.RefreshStatus)
			r.With(limiter.Limit).Post("/refresh/{resource}", h.Refresh)

			r.Get("/monitoring/errors", h.ErrorStats)
			r.Post("/monitoring/errors/clear", h.ClearErrors)
			r.Get("/monitoring/dashboard", h.Dashboard)

			r.Get("/{resource}", h.GetResource)
		})
	})

	return r
}
