package source

import (
	"fmt"
	"net/http"
	"time"

	"techpulse/internal/domain/entity"
	"techpulse/internal/resilience/circuitbreaker"
)

// Factory builds sources from their configuration. Every source it returns
// runs behind its own circuit breaker.
type Factory struct {
	client    *http.Client
	completer Completer
}

// NewFactory creates a Factory. The HTTP client should be configured with
// appropriate transport timeouts; per-source timeouts are applied per call.
// completer may be nil, in which case generated sources fail with
// ErrNoCompleter.
func NewFactory(client *http.Client, completer Completer) *Factory {
	if client == nil {
		client = &http.Client{}
	}
	return &Factory{client: client, completer: completer}
}

// Build creates the source for spec.
func (f *Factory) Build(spec entity.SourceSpec) (Source, error) {
	spec = WithDefaultURL(spec)
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("source %q: %w", spec.Name, err)
	}

	var src Source
	switch spec.Kind {
	case entity.SourceKindDevTo:
		src = NewDevTo(spec, f.client)
	case entity.SourceKindUnstop:
		src = NewUnstop(spec, f.client)
	case entity.SourceKindDevfolio:
		src = NewDevfolio(spec, f.client)
	case entity.SourceKindHackerEarth:
		src = NewHackerEarth(spec, f.client)
	case entity.SourceKindRSS:
		src = NewRSS(spec, f.client)
	case entity.SourceKindHTML:
		src = NewHTML(spec, f.client)
	case entity.SourceKindGenerated:
		src = NewGenerated(spec, f.completer)
	default:
		return nil, fmt.Errorf("source %q: unsupported kind %q", spec.Name, spec.Kind)
	}

	return WithBreaker(src, circuitbreaker.New(circuitbreaker.SourceConfig(spec.Name))), nil
}

// BuildAll creates every enabled source, grouped by resource in
// configuration order.
func (f *Factory) BuildAll(specs []entity.SourceSpec) (map[entity.ResourceType][]Source, error) {
	out := make(map[entity.ResourceType][]Source)
	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		src, err := f.Build(spec)
		if err != nil {
			return nil, err
		}
		out[spec.Resource] = append(out[spec.Resource], src)
	}
	return out, nil
}

// WithDefaultURL fills an empty URL with the built-in endpoint for the
// source's kind, if it has one.
func WithDefaultURL(spec entity.SourceSpec) entity.SourceSpec {
	if spec.URL == "" {
		spec.URL = defaultURLs[spec.Kind]
	}
	return spec
}

var defaultURLs = map[entity.SourceKind]string{
	entity.SourceKindDevTo:       DevToDefaultURL,
	entity.SourceKindUnstop:      UnstopDefaultURL,
	entity.SourceKindDevfolio:    DevfolioDefaultURL,
	entity.SourceKindHackerEarth: HackerEarthDefaultURL,
}

// DefaultSpecs reproduces the built-in source set: dev.to for news and
// Unstop, Devfolio and HackerEarth for hackathons.
func DefaultSpecs() []entity.SourceSpec {
	return []entity.SourceSpec{
		{Name: "devto", Kind: entity.SourceKindDevTo, Resource: entity.ResourceNews, URL: DevToDefaultURL, Limit: 12},
		{Name: "unstop", Kind: entity.SourceKindUnstop, Resource: entity.ResourceHackathons, URL: UnstopDefaultURL, Timeout: 15 * time.Second},
		{Name: "devfolio", Kind: entity.SourceKindDevfolio, Resource: entity.ResourceHackathons, URL: DevfolioDefaultURL, Timeout: 15 * time.Second},
		{Name: "hackerearth", Kind: entity.SourceKindHackerEarth, Resource: entity.ResourceHackathons, URL: HackerEarthDefaultURL, Timeout: 15 * time.Second, Limit: 5},
	}
}
