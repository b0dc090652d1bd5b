package enricher

import (
	"fmt"
	"time"
)

// Config controls summary enrichment.
//
// Enrichment only touches records whose summary is shorter than Threshold
// characters. Each page fetch is bounded by Timeout and MaxBodySize, and
// redirect targets are validated the same way as the original URL.
type Config struct {
	// Enabled turns enrichment on. Default: true
	Enabled bool

	// Threshold is the summary length (in characters) below which a record
	// is enriched. Default: 40
	Threshold int

	// SummaryLength caps the enriched summary. Default: 280
	SummaryLength int

	// Timeout bounds a single page fetch. Default: 10s
	Timeout time.Duration

	// Parallelism is the number of pages fetched at once. Default: 4
	Parallelism int

	// MaxBodySize is the largest page accepted, in bytes. Default: 5MB
	MaxBodySize int64

	// MaxRedirects is the redirect limit per page. Default: 5
	MaxRedirects int

	// DenyPrivateIPs rejects URLs resolving to loopback, link-local or
	// private addresses. Should always be true in production. Default: true
	DenyPrivateIPs bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Threshold:      40,
		SummaryLength:  280,
		Timeout:        10 * time.Second,
		Parallelism:    4,
		MaxBodySize:    5 * 1024 * 1024,
		MaxRedirects:   5,
		DenyPrivateIPs: true,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %d", c.Threshold)
	}
	if c.SummaryLength < 20 {
		return fmt.Errorf("summary length must be at least 20, got %d", c.SummaryLength)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.Parallelism < 1 || c.Parallelism > 20 {
		return fmt.Errorf("parallelism must be between 1 and 20, got %d", c.Parallelism)
	}

	minBodySize := int64(1024)
	maxBodySize := int64(50 * 1024 * 1024)
	if c.MaxBodySize < minBodySize || c.MaxBodySize > maxBodySize {
		return fmt.Errorf("max body size must be between %d and %d bytes, got %d", minBodySize, maxBodySize, c.MaxBodySize)
	}
	if c.MaxRedirects < 0 || c.MaxRedirects > 10 {
		return fmt.Errorf("max redirects must be between 0 and 10, got %d", c.MaxRedirects)
	}
	return nil
}
