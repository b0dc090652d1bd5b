// Package llm provides text generation clients for error diagnostics and
// generated content. OpenAI and Groq are reached through the OpenAI chat
// completions API; Claude through the Anthropic SDK. Every call runs through a
// circuit breaker inside a bounded retry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"techpulse/internal/resilience/circuitbreaker"
	"techpulse/internal/resilience/retry"
)

// Provider names accepted in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderClaude = "claude"
	ProviderNone   = "none"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// ErrNotConfigured is returned by New when no provider or API key is set.
var ErrNotConfigured = errors.New("text generation provider not configured")

// Config selects and tunes the provider.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// backend performs one completion without retry or breaker.
type backend interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Client generates text through the configured provider.
type Client struct {
	provider string
	model    string
	backend  backend
	breaker  *circuitbreaker.CircuitBreaker
	executor *retry.Executor
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	retryOps []retry.Option
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithRetryOptions passes options to the retry executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *clientOptions) { o.retryOps = append(o.retryOps, opts...) }
}

// New creates a Client. It returns ErrNotConfigured when the provider is
// empty or "none", or when the API key is missing.
func New(cfg Config, opts ...Option) (*Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == ProviderNone || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var b backend
	switch provider {
	case ProviderOpenAI:
		b = newOpenAIBackend(cfg)
	case ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "llama-3.3-70b-versatile"
		}
		b = newOpenAIBackend(cfg)
	case ProviderClaude:
		b = newClaudeBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown text generation provider %q", cfg.Provider)
	}

	retryOps := append([]retry.Option{retry.WithLogger(o.logger)}, o.retryOps...)
	o.logger.Info("initialized text generation client",
		slog.String("provider", provider),
		slog.String("model", modelOf(b)))

	return &Client{
		provider: provider,
		model:    modelOf(b),
		backend:  b,
		breaker:  circuitbreaker.New(circuitbreaker.LLMConfig(provider)),
		executor: retry.New(provider+"-completion", retry.LLMPolicy(), retryOps...),
		timeout:  cfg.Timeout,
		logger:   o.logger,
	}, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Complete generates text for prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.New().String()
	start := time.Now()

	res := retry.Execute(ctx, c.executor, func(ctx context.Context) (string, error) {
		out, err := circuitbreaker.Run(c.breaker, func() (string, error) {
			return c.backend.complete(ctx, prompt)
		})
		if circuitbreaker.IsRejection(err) {
			c.logger.Warn("text generation circuit breaker open, request rejected",
				slog.String("provider", c.provider),
				slog.String("state", c.breaker.State().String()))
			return "", fmt.Errorf("%s api unavailable: %w", c.provider, err)
		}
		return out, err
	})

	duration := time.Since(start)
	if !res.Success {
		recordCompletion(c.provider, false, duration)
		c.logger.ErrorContext(ctx, "text generation failed",
			slog.String("request_id", requestID),
			slog.String("provider", c.provider),
			slog.Int("attempts", res.Attempts),
			slog.Duration("duration", duration),
			slog.String("error", res.Err.Error()))
		return "", fmt.Errorf("%s completion failed after %d attempts: %w", c.provider, res.Attempts, res.Err)
	}

	recordCompletion(c.provider, true, duration)
	c.logger.InfoContext(ctx, "text generation completed",
		slog.String("request_id", requestID),
		slog.String("provider", c.provider),
		slog.Int("output_length", len([]rune(res.Value))),
		slog.Duration("duration", duration))
	return res.Value, nil
}

type modeler interface{ modelName() string }

func modelOf(b backend) string {
	if m, ok := b.(modeler); ok {
		return m.modelName()
	}
	return ""
}

// statusError maps an API status code to a retry.HTTPError so transient
// responses (429, 5xx) are retried and the rest fail fast.
func statusError(provider string, status int, err error) error {
	if status == 0 {
		return fmt.Errorf("%s api error: %w", provider, err)
	}
	return &retry.HTTPError{StatusCode: status, Message: fmt.Sprintf("%s api error: %v", provider, err)}
}
