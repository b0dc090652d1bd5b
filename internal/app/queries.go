package app

import (
	"context"
	"time"

	"techpulse/internal/domain/entity"
	"techpulse/internal/usecase/alert"
	"techpulse/internal/usecase/healing"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/monitor"
	"techpulse/internal/usecase/refresh"
)

// Dashboard is the combined monitoring view.
type Dashboard struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Ready       bool             `json:"ready"`
	Errors      monitor.Stats    `json:"errors"`
	Health      *health.Snapshot `json:"health,omitempty"`
	Refresh     []refresh.Status `json:"refresh"`
	Supervisor  healing.Status   `json:"supervisor"`
	Alerts      AlertsView       `json:"alerts"`
}

// AlertsView summarizes the alert dispatcher.
type AlertsView struct {
	Enabled  bool                        `json:"enabled"`
	Throttle []alert.ThrottleEntry       `json:"throttle"`
	Channels []alert.ChannelHealthStatus `json:"channels"`
}

// GetCachedResource returns the served set for r. With forceRefresh a
// refresh runs first; otherwise a refresh runs only when nothing has been
// published yet.
func (c *Core) GetCachedResource(ctx context.Context, r entity.ResourceType, forceRefresh bool) (entity.CachedResourceSet, error) {
	if forceRefresh {
		out, err := c.ForceRefresh(ctx, r)
		return out.Set, err
	}

	set, err := c.refresher.Get(r)
	if err != nil {
		return entity.CachedResourceSet{}, err
	}
	if !set.LastRefreshedAt.IsZero() || set.Fallback {
		return set, nil
	}

	rctx, cancel := c.detach(ctx)
	defer cancel()
	out, err := c.refresher.Refresh(rctx, r, false)
	if err != nil {
		return entity.CachedResourceSet{}, err
	}
	return out.Set, nil
}

// ForceRefresh runs a refresh of r regardless of cache age. The refresh is
// not cancelled when ctx is; only shutdown stops it.
func (c *Core) ForceRefresh(ctx context.Context, r entity.ResourceType) (refresh.Outcome, error) {
	rctx, cancel := c.detach(ctx)
	defer cancel()
	return c.refresher.Refresh(rctx, r, true)
}

// GetRefreshStatus returns the refresh state of r.
func (c *Core) GetRefreshStatus(r entity.ResourceType) (refresh.Status, error) {
	return c.refresher.Status(r)
}

// RefreshStatuses returns the refresh state of every resource.
func (c *Core) RefreshStatuses() []refresh.Status {
	return c.refresher.StatusAll()
}

// GetErrorStats returns the error monitor summary.
func (c *Core) GetErrorStats() monitor.Stats {
	return c.monitor.Stats()
}

// ClearErrorStats resets the error monitor.
func (c *Core) ClearErrorStats(ctx context.Context) {
	c.monitor.Clear(ctx)
}

// GetHealthStatus returns the snapshot of the latest scheduled check. It
// reports false until the first check has finished.
func (c *Core) GetHealthStatus() (health.Snapshot, bool) {
	return c.health.Latest()
}

// CheckHealth runs a full health check now.
func (c *Core) CheckHealth(ctx context.Context) health.Snapshot {
	return c.health.PerformCheck(ctx)
}

// Ready reports whether the initial refresh has completed.
func (c *Core) Ready() bool {
	return c.refresher.Ready()
}

// Dashboard assembles the monitoring view without running new checks.
func (c *Core) Dashboard(_ context.Context) Dashboard {
	d := Dashboard{
		GeneratedAt: c.clock.Now().UTC(),
		Ready:       c.refresher.Ready(),
		Errors:      c.monitor.Stats(),
		Refresh:     c.refresher.StatusAll(),
		Supervisor:  c.healer.Status(),
		Alerts: AlertsView{
			Enabled:  c.alerts.Enabled(),
			Throttle: c.alerts.Entries(),
			Channels: c.alerts.ChannelHealth(),
		},
	}
	if snap, ok := c.health.Latest(); ok {
		d.Health = &snap
	}
	return d
}
