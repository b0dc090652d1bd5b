package health

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"techpulse/internal/infra/memstat"
	"techpulse/internal/pkg/redact"
)

// Database is the part of the database watcher the probe needs.
type Database interface {
	Configured() bool
	Ping(ctx context.Context) error
	Stats() (sql.DBStats, bool)
}

// DatabaseProbe pings the pool and reports its statistics. A reachable
// database is healthy whatever its pool usage.
type DatabaseProbe struct {
	DB Database
}

// Check implements Probe.
func (p DatabaseProbe) Check(ctx context.Context) ComponentResult {
	if p.DB == nil || !p.DB.Configured() {
		return ComponentResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	if err := p.DB.Ping(ctx); err != nil {
		return ComponentResult{
			Status:  StatusUnhealthy,
			Message: redact.Error(err),
		}
	}

	stats, ok := p.DB.Stats()
	if !ok {
		return ComponentResult{Status: StatusHealthy, Message: "reachable"}
	}
	details := map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}

	message := "reachable"
	// MaxOpenConnections is 0 when the pool is unlimited
	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
		details["utilization_percent"] = utilization
		message = fmt.Sprintf("reachable, pool %.0f%% in use", utilization)
	}

	return ComponentResult{Status: StatusHealthy, Message: message, Details: details}
}

// Target is one URL an EndpointProbe fetches.
type Target struct {
	Name string
	URL  string
}

// EndpointProbe fetches every target concurrently. All reachable is healthy,
// some is degraded and none is unhealthy.
type EndpointProbe struct {
	Client    *http.Client
	Targets   []Target
	UserAgent string
}

// NewEndpointProbe creates an EndpointProbe with a client bounded by timeout.
func NewEndpointProbe(targets []Target, userAgent string, timeout time.Duration) EndpointProbe {
	return EndpointProbe{
		Client:    &http.Client{Timeout: timeout},
		Targets:   targets,
		UserAgent: userAgent,
	}
}

// Check implements Probe.
func (p EndpointProbe) Check(ctx context.Context) ComponentResult {
	if len(p.Targets) == 0 {
		return ComponentResult{Status: StatusHealthy, Message: "no endpoints configured"}
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	var (
		mu      sync.Mutex
		ok      int
		details = make(map[string]any, len(p.Targets))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range p.Targets {
		g.Go(func() error {
			err := p.fetch(ctx, client, target.URL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				details[target.Name] = redact.Error(err)
				return nil
			}
			ok++
			details[target.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	total := len(p.Targets)
	res := ComponentResult{
		Message: fmt.Sprintf("%d/%d reachable", ok, total),
		Details: details,
	}
	switch {
	case ok == total:
		res.Status = StatusHealthy
	case ok > 0:
		res.Status = StatusDegraded
	default:
		res.Status = StatusUnhealthy
	}
	return res
}

func (p EndpointProbe) fetch(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// MemoryProbe grades heap usage against warning and critical percentages.
type MemoryProbe struct {
	Read            memstat.Reader
	WarningPercent  float64
	CriticalPercent float64
}

// NewMemoryProbe creates a MemoryProbe with the 80/90 thresholds.
func NewMemoryProbe() MemoryProbe {
	return MemoryProbe{Read: memstat.Read, WarningPercent: 80, CriticalPercent: 90}
}

// Check implements Probe.
func (p MemoryProbe) Check(_ context.Context) ComponentResult {
	read := p.Read
	if read == nil {
		read = memstat.Read
	}
	s := read()
	details := map[string]any{
		"heap_alloc_bytes": s.HeapAlloc,
		"heap_sys_bytes":   s.HeapSys,
		"goroutines":       s.Goroutines,
		"num_gc":           s.NumGC,
		"percent":          s.Percent,
	}
	msg := fmt.Sprintf("heap %.1f%%", s.Percent)

	switch {
	case s.Percent > p.CriticalPercent:
		return ComponentResult{Status: StatusUnhealthy, Message: msg, Details: details}
	case s.Percent >= p.WarningPercent:
		return ComponentResult{Status: StatusDegraded, Message: msg, Details: details}
	default:
		return ComponentResult{Status: StatusHealthy, Message: msg, Details: details}
	}
}
