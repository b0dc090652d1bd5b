package app

import (
	"context"
	"fmt"
	"time"

	"techpulse/internal/usecase/alert"
	"techpulse/internal/usecase/monitor"
)

// maxDigestCritical caps the critical messages quoted in the digest.
const maxDigestCritical = 5

// digestSections builds the digest body: error counts for the period, the
// latest health snapshot and the refresh state of every resource.
func (c *Core) digestSections(_ context.Context, since time.Time) []alert.DigestSection {
	return []alert.DigestSection{
		c.errorSection(since),
		c.healthSection(),
		c.updateSection(),
	}
}

func (c *Core) errorSection(since time.Time) alert.DigestSection {
	records := c.monitor.RecordsSince(since)
	counts := make(map[monitor.Severity]int, len(monitor.Severities))
	var critical []string
	for _, rec := range records {
		counts[rec.Severity]++
		if rec.Severity == monitor.SeverityCritical && len(critical) < maxDigestCritical {
			critical = append(critical, fmt.Sprintf("%s %s: %s",
				rec.Timestamp.UTC().Format(time.RFC3339), rec.Context.Source, rec.Message))
		}
	}

	lines := make([]string, 0, len(monitor.Severities)+1+len(critical))
	for _, s := range monitor.Severities {
		lines = append(lines, fmt.Sprintf("%s: %d", s, counts[s]))
	}
	lines = append(lines, fmt.Sprintf("total since start: %d", c.monitor.Stats().TotalErrors))
	lines = append(lines, critical...)
	return alert.DigestSection{Title: "Errors", Lines: lines}
}

func (c *Core) healthSection() alert.DigestSection {
	snap, ok := c.health.Latest()
	if !ok {
		return alert.DigestSection{Title: "Health", Lines: []string{"no health check has run yet"}}
	}
	lines := append([]string{"checked at " + snap.Timestamp.UTC().Format(time.RFC3339)}, snap.Lines()...)
	return alert.DigestSection{Title: "Health", Lines: lines}
}

func (c *Core) updateSection() alert.DigestSection {
	var lines []string
	for _, st := range c.refresher.StatusAll() {
		line := fmt.Sprintf("%s: %d records", st.Resource, st.RecordCount)
		switch {
		case st.Fallback:
			line += ", serving fallback data"
		case st.LastRefreshedAt.IsZero():
			line += ", never refreshed"
		default:
			line += ", refreshed " + st.LastRefreshedAt.UTC().Format(time.RFC3339)
		}
		if st.LastError != "" {
			line += " (last error: " + st.LastError + ")"
		}
		lines = append(lines, line)
	}
	return alert.DigestSection{Title: "Updates", Lines: lines}
}
