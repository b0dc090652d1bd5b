package entity

import (
	"fmt"
	"time"
)

// SourceKind selects the adapter that fetches and maps an upstream payload.
type SourceKind string

const (
	SourceKindDevTo       SourceKind = "devto"
	SourceKindUnstop      SourceKind = "unstop"
	SourceKindDevfolio    SourceKind = "devfolio"
	SourceKindHackerEarth SourceKind = "hackerearth"
	SourceKindRSS         SourceKind = "rss"
	SourceKindHTML        SourceKind = "html"
	SourceKindGenerated   SourceKind = "generated"
)

// SourceSpec describes one configured upstream source of a resource.
// Sources of the same resource are merged in the order they are configured.
type SourceSpec struct {
	Name     string       `yaml:"name" json:"name"`
	Kind     SourceKind   `yaml:"kind" json:"kind"`
	Resource ResourceType `yaml:"resource" json:"resource"`
	URL      string       `yaml:"url" json:"url"`
	// ProbeURL is checked by the health aggregator; defaults to URL.
	ProbeURL string `yaml:"probe_url,omitempty" json:"probeUrl,omitempty"`
	// Timeout bounds a single fetch attempt.
	Timeout   time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UserAgent string         `yaml:"user_agent,omitempty" json:"-"`
	Limit     int            `yaml:"limit,omitempty" json:"limit,omitempty"`
	Scraper   *ScraperConfig `yaml:"scraper,omitempty" json:"scraper,omitempty"`
	Disabled  bool           `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// ScraperConfig holds CSS selectors for HTML listing sources.
type ScraperConfig struct {
	ItemSelector    string `yaml:"item_selector" json:"item_selector"`
	TitleSelector   string `yaml:"title_selector" json:"title_selector"`
	SummarySelector string `yaml:"summary_selector,omitempty" json:"summary_selector,omitempty"`
	DateSelector    string `yaml:"date_selector,omitempty" json:"date_selector,omitempty"`
	URLSelector     string `yaml:"url_selector,omitempty" json:"url_selector,omitempty"`
	DateFormat      string `yaml:"date_format,omitempty" json:"date_format,omitempty"`
	URLPrefix       string `yaml:"url_prefix,omitempty" json:"url_prefix,omitempty"`
}

// HealthURL returns the URL the health aggregator probes for this source.
func (s *SourceSpec) HealthURL() string {
	if s.ProbeURL != "" {
		return s.ProbeURL
	}
	return s.URL
}

// Validate checks that the source is complete enough to be fetched.
func (s *SourceSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "source name is required"}
	}
	if _, err := ParseResourceType(string(s.Resource)); err != nil {
		return &ValidationError{Field: "resource", Message: fmt.Sprintf("unknown resource %q", s.Resource)}
	}

	switch s.Kind {
	case SourceKindDevTo, SourceKindUnstop, SourceKindDevfolio, SourceKindHackerEarth, SourceKindRSS:
	case SourceKindHTML:
		if s.Scraper == nil || s.Scraper.ItemSelector == "" || s.Scraper.TitleSelector == "" {
			return &ValidationError{Field: "scraper", Message: "html sources need item_selector and title_selector"}
		}
	case SourceKindGenerated:
		// generated sources have no URL
		return nil
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported source kind %q", s.Kind)}
	}

	return ValidateURL(s.URL)
}
