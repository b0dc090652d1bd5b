// Package entity defines the core domain types shared by the refresh, monitoring
// and health components: cached resource sets, normalized records and the
// upstream source descriptions they are built from.
package entity

import (
	"strings"
	"time"
)

// ResourceType names a cached collection served by the core.
type ResourceType string

const (
	ResourceNews       ResourceType = "news"
	ResourceHackathons ResourceType = "hackathons"
)

// AllResources lists the built-in resource types in refresh order.
func AllResources() []ResourceType {
	return []ResourceType{ResourceNews, ResourceHackathons}
}

// ParseResourceType converts a path segment or CLI argument into a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(strings.ToLower(strings.TrimSpace(s))) {
	case ResourceNews:
		return ResourceNews, nil
	case ResourceHackathons:
		return ResourceHackathons, nil
	}
	return "", ErrUnknownResource
}

// SourceOrigin records where a record came from.
type SourceOrigin string

const (
	OriginAIGenerated   SourceOrigin = "ai-generated"
	OriginUserSubmitted SourceOrigin = "user-submitted"
	OriginFallback      SourceOrigin = "fallback"
	originUpstreamPrefix              = "upstream:"
)

// UpstreamOrigin returns the origin label for a named upstream source.
func UpstreamOrigin(name string) SourceOrigin {
	return SourceOrigin(originUpstreamPrefix + name)
}

// IsUpstream reports whether the origin is a named upstream source.
func (o SourceOrigin) IsUpstream() bool {
	return strings.HasPrefix(string(o), originUpstreamPrefix)
}

// NormalizedRecord is the common shape every source maps its payload into.
// Attributes carries resource specific fields (prize, venue, status, tags).
type NormalizedRecord struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Summary    string            `json:"summary"`
	Date       time.Time         `json:"date"`
	URL        string            `json:"url"`
	DedupKey   string            `json:"-"`
	Origin     SourceOrigin      `json:"origin"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DedupKeyFor derives the deduplication key from a title: case-folded,
// trimmed, with inner whitespace runs collapsed to a single space.
func DedupKeyFor(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Normalize trims the record's text fields and fills DedupKey.
// It returns false when the record has no usable title.
func (r *NormalizedRecord) Normalize() bool {
	r.Title = strings.TrimSpace(r.Title)
	r.Summary = strings.TrimSpace(r.Summary)
	r.URL = strings.TrimSpace(r.URL)
	r.DedupKey = DedupKeyFor(r.Title)
	return r.DedupKey != ""
}

// CachedResourceSet is an immutable snapshot of one resource. A published set
// is never modified; a refresh replaces it as a whole.
type CachedResourceSet struct {
	Resource        ResourceType       `json:"resource"`
	Records         []NormalizedRecord `json:"records"`
	LastRefreshedAt time.Time          `json:"lastRefreshedAt"`
	Fallback        bool               `json:"fallback"`
}

// Len returns the number of records in the set. A nil set has zero records.
func (s *CachedResourceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Clone returns a copy whose Records slice can be handed to callers.
func (s *CachedResourceSet) Clone() CachedResourceSet {
	if s == nil {
		return CachedResourceSet{}
	}
	out := *s
	out.Records = make([]NormalizedRecord, len(s.Records))
	copy(out.Records, s.Records)
	return out
}

// Age reports how long ago the set was refreshed.
func (s *CachedResourceSet) Age(now time.Time) time.Duration {
	if s == nil || s.LastRefreshedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.LastRefreshedAt)
}
