// Package health probes the database, the service's own read surface, the
// heap and the upstream sources, and reduces the results to one overall
// status.
package health

import (
	"context"
	"fmt"
	"time"
)

// Status is a component or overall health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worst returns the most severe status. An empty list is healthy.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	if worst.rank() == 2 {
		return StatusUnhealthy
	}
	return worst
}

// ComponentResult is the outcome of one probe.
type ComponentResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Components holds one result per probed component.
type Components struct {
	Database        ComponentResult `json:"database"`
	APISurface      ComponentResult `json:"api_surface"`
	Memory          ComponentResult `json:"memory"`
	UpstreamSources ComponentResult `json:"upstream_sources"`
}

// Snapshot is the result of one full health check.
type Snapshot struct {
	Timestamp  time.Time     `json:"timestamp"`
	Components Components    `json:"components"`
	Overall    Status        `json:"overall"`
	Duration   time.Duration `json:"duration_ns"`
}

type namedResult struct {
	name   string
	result ComponentResult
}

func (c Components) named() []namedResult {
	return []namedResult{
		{"database", c.Database},
		{"api_surface", c.APISurface},
		{"memory", c.Memory},
		{"upstream_sources", c.UpstreamSources},
	}
}

// Lines renders one "component: status (message)" line per component.
func (s Snapshot) Lines() []string {
	lines := make([]string, 0, 5)
	lines = append(lines, "overall: "+string(s.Overall))
	for _, n := range s.Components.named() {
		line := fmt.Sprintf("%s: %s", n.name, n.result.Status)
		if n.result.Message != "" {
			line += " (" + n.result.Message + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// Probe checks one component. Implementations must honor ctx.
type Probe interface {
	Check(ctx context.Context) ComponentResult
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) ComponentResult

// Check implements Probe.
func (f ProbeFunc) Check(ctx context.Context) ComponentResult { return f(ctx) }
