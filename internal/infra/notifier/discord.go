package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DiscordConfig holds configuration for Discord webhook notifications.
type DiscordConfig struct {
	// Enabled indicates whether Discord notifications are enabled
	Enabled bool

	// WebhookURL is the Discord webhook URL
	WebhookURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// DiscordNotifier posts messages to a Discord webhook as a single embed.
type DiscordNotifier struct {
	config      DiscordConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retry       retrySettings
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(0.5, 3), // 0.5 req/s (30 req/min), burst of 3
		retry:       defaultRetrySettings(),
	}
}

// DiscordWebhookPayload represents the JSON payload for a Discord webhook.
type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents a Discord embed object.
type DiscordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      DiscordEmbedFooter  `json:"footer"`
	Timestamp   string              `json:"timestamp"`
}

// DiscordEmbedField is one name/value row in an embed.
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// Discord embed limits
const (
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	maxEmbedFields       = 25
	maxEmbedFieldName    = 256
	maxEmbedFieldValue   = 1024
	truncationSuffix     = "..."
)

var discordSeverityColor = map[string]int{
	SeverityCritical: 15548997, // red
	SeverityWarning:  16705372, // yellow
	SeverityInfo:     5793266,  // blurple
}

// Name returns "discord".
func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) buildEmbedPayload(msg Message) DiscordWebhookPayload {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	color, ok := discordSeverityColor[msg.Severity]
	if !ok {
		color = discordSeverityColor[SeverityInfo]
	}

	fields := make([]DiscordEmbedField, 0, len(msg.Fields))
	for i, f := range msg.Fields {
		if i == maxEmbedFields {
			break
		}
		fields = append(fields, DiscordEmbedField{
			Name:   truncate(f.Name, maxEmbedFieldName, truncationSuffix),
			Value:  truncate(f.Value, maxEmbedFieldValue, truncationSuffix),
			Inline: len(f.Value) < 40,
		})
	}

	return DiscordWebhookPayload{
		Embeds: []DiscordEmbed{{
			Title:       truncate(msg.Subject, maxTitleLength, truncationSuffix),
			Description: truncate(msg.Body, maxDescriptionLength, truncationSuffix),
			Color:       color,
			Fields:      fields,
			Footer:      DiscordEmbedFooter{Text: "techpulse monitor • " + msg.Severity},
			Timestamp:   ts.UTC().Format(time.RFC3339),
		}},
	}
}

// Send posts msg to the webhook, waiting for the rate limiter first.
func (d *DiscordNotifier) Send(ctx context.Context, msg Message) error {
	requestID := uuid.New().String()
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	slog.Info("Starting Discord notification",
		slog.String("request_id", requestID),
		slog.String("subject", msg.Subject))

	if err := d.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := d.buildEmbedPayload(msg)
	return sendWithRetry(ctx, "Discord", d.retry, func(ctx context.Context) error {
		return postJSON(ctx, d.httpClient, "Discord", d.config.WebhookURL, payload)
	})
}
