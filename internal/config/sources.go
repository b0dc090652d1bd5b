package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"techpulse/internal/domain/entity"
	"techpulse/internal/infra/source"
)

// SourcesFile is the YAML document listing upstream sources.
//
//	sources:
//	  - name: devto
//	    kind: devto
//	    resource: news
//	    limit: 12
//	  - name: golang-blog
//	    kind: rss
//	    resource: news
//	    url: https://go.dev/blog/feed.atom
type SourcesFile struct {
	Sources []entity.SourceSpec `yaml:"sources"`
}

// LoadSources reads the source list from path. An empty path or a missing
// file yields the built-in source set.
// The path parameter is expected to come from a trusted source (environment or CLI flag).
func LoadSources(path string) ([]entity.SourceSpec, error) {
	if path == "" {
		return source.DefaultSpecs(), nil
	}

	// #nosec G304 -- path is provided by the operator, not user input
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return source.DefaultSpecs(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	if err := validateSources(file.Sources); err != nil {
		return nil, fmt.Errorf("sources file validation failed: %w", err)
	}
	return file.Sources, nil
}

// validateSources checks names are unique and every resource has at least
// one enabled source. URLs are checked when the source is built.
func validateSources(specs []entity.SourceSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]struct{}, len(specs))
	enabled := make(map[entity.ResourceType]int)
	for i, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i+1)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if _, err := entity.ParseResourceType(string(s.Resource)); err != nil {
			return fmt.Errorf("source %q: unknown resource %q", s.Name, s.Resource)
		}
		if !s.Disabled {
			enabled[s.Resource]++
		}
	}

	for _, r := range entity.AllResources() {
		if enabled[r] == 0 {
			return fmt.Errorf("resource %q has no enabled source", r)
		}
	}
	return nil
}
