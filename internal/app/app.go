// Package app wires the refresh scheduler, the error monitor, the health
// aggregator, the self-healing supervisor and the alert dispatcher into one
// Core, and exposes the read and control operations the HTTP router and the
// CLI need.
package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"techpulse/internal/config"
	"techpulse/internal/domain/entity"
	"techpulse/internal/infra/db"
	"techpulse/internal/infra/enricher"
	"techpulse/internal/infra/llm"
	"techpulse/internal/infra/source"
	"techpulse/internal/observability/logging"
	"techpulse/internal/pkg/redact"
	"techpulse/internal/usecase/alert"
	"techpulse/internal/usecase/healing"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/monitor"
	"techpulse/internal/usecase/refresh"
)

// UserAgent identifies the service to upstreams and to its own probes.
const UserAgent = "TechPulse/1.0 (+health-monitor)"

// Core owns every long-running component. Create it with New, start the
// background loops with Start and release everything with Close.
type Core struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	clock  clock.Clock

	journals  *logging.Journals
	database  *sql.DB
	watcher   *db.Watcher
	llm       *llm.Client
	monitor   *monitor.Monitor
	alerts    *alert.Dispatcher
	healer    *healing.Supervisor
	health    *health.Aggregator
	refresher *refresh.Scheduler

	// ctx bounds background loops and detached refreshes; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Core.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	clock      clock.Clock
	httpClient *http.Client
	refreshOps []refresh.Option
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the client used for upstream sources and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRefreshOptions passes extra options to the refresh scheduler.
func WithRefreshOptions(opts ...refresh.Option) Option {
	return func(o *options) { o.refreshOps = append(o.refreshOps, opts...) }
}

// New builds the Core from cfg. A database that is configured but
// unreachable is not an error: the supervisor takes over reconnection.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Core, error) {
	o := options{logger: slog.Default(), clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient()
	}

	journals, err := logging.OpenJournals(cfg.LogDir, logging.DefaultJournalOptions())
	if err != nil {
		return nil, fmt.Errorf("open journals: %w", err)
	}

	c := &Core{
		cfg:      cfg,
		logger:   o.logger,
		clock:    o.clock,
		journals: journals,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.llm, err = llm.New(cfg.LLM, llm.WithLogger(o.logger))
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		o.logger.Info("text generation disabled", slog.String("provider", cfg.LLM.Provider))
	case err != nil:
		o.logger.Warn("text generation disabled", slog.Any("error", redact.Error(err)))
	default:
		o.logger.Info("text generation enabled", slog.String("provider", c.llm.Provider()))
	}

	c.alerts = alert.New(cfg.Alert, channels(cfg, o.logger),
		alert.WithClock(o.clock),
		alert.WithJournal(journals.Alerts),
		alert.WithLogger(o.logger),
		alert.WithDigestSource(alert.DigestSourceFunc(c.digestSections)),
	)

	monitorOpts := []monitor.Option{
		monitor.WithClock(o.clock),
		monitor.WithJournal(journals.Errors),
		monitor.WithLogger(o.logger),
		monitor.WithAlerter(c.alerts),
	}
	if c.llm != nil {
		monitorOpts = append(monitorOpts, monitor.WithDiagnoser(monitor.NewDiagnoser(c.llm)))
	}
	c.monitor = monitor.New(cfg.Monitor, monitorOpts...)

	c.openDatabase(ctx)

	c.healer = healing.New(cfg.Healing, c.watcher, c.monitor,
		healing.WithClock(o.clock),
		healing.WithLogger(o.logger),
	)

	sources, err := c.buildSources(o.httpClient)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	refreshOpts := []refresh.Option{
		refresh.WithClock(o.clock),
		refresh.WithJournal(journals.Refresh),
		refresh.WithLogger(o.logger),
		refresh.WithErrorLogger(c.monitor),
		refresh.WithAlerter(c.alerts),
	}
	if cfg.Enricher.Enabled {
		refreshOpts = append(refreshOpts, refresh.WithEnricher(enricher.New(cfg.Enricher, o.logger)))
	}
	refreshOpts = append(refreshOpts, o.refreshOps...)
	c.refresher = refresh.New(cfg.Refresh, sources, refreshOpts...)

	c.health = health.New(cfg.Health, c.probes(o.httpClient),
		health.WithClock(o.clock),
		health.WithJournal(journals.Health),
		health.WithLogger(o.logger),
		health.WithAlerter(c.alerts),
	)

	return c, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

func channels(cfg *config.AppConfig, logger *slog.Logger) []alert.Channel {
	list := []alert.Channel{
		alert.NewEmailChannel(cfg.Email),
		alert.NewSlackChannel(cfg.Slack),
		alert.NewDiscordChannel(cfg.Discord),
	}
	var enabled []string
	for _, ch := range list {
		if ch.IsEnabled() {
			enabled = append(enabled, ch.Name())
		}
	}
	logger.Info("alert channels initialized",
		slog.Int("enabled", len(enabled)),
		slog.String("channels", strings.Join(enabled, ",")))
	return list
}

// openDatabase attaches the pool when DATABASE_URL is set. The watcher is
// always created; without a pool it reports "not configured".
func (c *Core) openDatabase(ctx context.Context) {
	watcherOpts := []db.WatcherOption{
		db.WithClock(c.clock),
		db.WithInterval(c.cfg.DBPingInterval),
		db.WithLogger(c.logger),
	}

	database, err := db.Open(ctx, c.cfg.DatabaseURL, db.ConnectionConfigFromEnv())
	switch {
	case errors.Is(err, db.ErrNotConfigured):
		c.logger.Info("database not configured")
	case err != nil:
		c.monitor.LogError(ctx, err, monitor.Context{
			Source:    "database-connect",
			Operation: "initial connection",
		})
	}

	if database == nil {
		c.watcher = db.NewWatcher(nil, watcherOpts...)
		return
	}
	c.database = database
	c.watcher = db.NewWatcher(database, watcherOpts...)
}

func (c *Core) buildSources(client *http.Client) (map[entity.ResourceType][]refresh.Source, error) {
	var completer source.Completer
	if c.llm != nil {
		completer = c.llm
	}

	built, err := source.NewFactory(client, completer).BuildAll(c.cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	out := make(map[entity.ResourceType][]refresh.Source, len(built))
	for r, list := range built {
		for _, src := range list {
			out[r] = append(out[r], src)
		}
		c.logger.Info("sources configured",
			slog.String("resource", string(r)),
			slog.Int("count", len(list)))
	}
	return out, nil
}

func (c *Core) probes(client *http.Client) health.Probes {
	self := strings.TrimRight(c.cfg.SelfURL, "/")
	api := make([]health.Target, 0, 2)
	for _, r := range entity.AllResources() {
		api = append(api, health.Target{Name: string(r), URL: self + "/api/" + string(r)})
	}

	var upstream []health.Target
	for _, spec := range c.cfg.Sources {
		if spec.Disabled {
			continue
		}
		spec = source.WithDefaultURL(spec)
		if u := spec.HealthURL(); u != "" {
			upstream = append(upstream, health.Target{Name: spec.Name, URL: u})
		}
	}

	apiProbe := health.NewEndpointProbe(api, UserAgent, c.cfg.Health.APITimeout)
	upstreamProbe := health.NewEndpointProbe(upstream, UserAgent, c.cfg.Health.UpstreamTimeout)
	if client != nil && client.Transport != nil {
		apiProbe.Client.Transport = client.Transport
		upstreamProbe.Client.Transport = client.Transport
	}

	memory := health.NewMemoryProbe()
	memory.WarningPercent = c.cfg.Healing.MemoryWarningPercent
	memory.CriticalPercent = c.cfg.Healing.MemoryCriticalPercent

	return health.Probes{
		Database:        health.DatabaseProbe{DB: c.watcher},
		APISurface:      apiProbe,
		Memory:          memory,
		UpstreamSources: upstreamProbe,
	}
}

// Start launches the background loops: database watcher, supervisor,
// refresh scheduler, health checks and the digest schedule.
func (c *Core) Start() error {
	if err := c.alerts.Start(); err != nil {
		return err
	}

	c.monitor.Supervise(c.ctx, "database-watcher", c.watcher.Run)
	c.monitor.Supervise(c.ctx, "supervisor", func(ctx context.Context) { c.healer.Run(ctx, c.watcher.Events()) })
	c.monitor.Supervise(c.ctx, "refresh-scheduler", c.refresher.Run)
	c.monitor.Supervise(c.ctx, "health-aggregator", c.health.Run)

	c.logger.Info("core started")
	return nil
}

// Close stops the background loops and waits for them, flushes pending
// alerts, and closes the database and the journals. Later calls return the
// first result.
func (c *Core) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { c.closeErr = c.close(ctx) })
	return c.closeErr
}

func (c *Core) close(ctx context.Context) error {
	c.cancel()
	c.monitor.Close()

	var errs []error
	if c.healer != nil {
		c.healer.Wait()
	}
	if err := c.monitor.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for background tasks: %w", err))
	}

	if err := c.alerts.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown alerts: %w", err))
	}
	if c.database != nil {
		if err := c.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := c.journals.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journals: %w", err))
	}

	c.logger.Info("core stopped")
	return errors.Join(errs...)
}

// detach returns a context that keeps ctx's values but is only cancelled
// when the Core shuts down.
func (c *Core) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}
