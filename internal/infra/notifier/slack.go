package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// Enabled indicates whether Slack notifications are enabled
	Enabled bool

	// WebhookURL is the Slack Incoming Webhook URL
	WebhookURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration
}

// SlackNotifier posts messages to a Slack Incoming Webhook using Block Kit.
// Requests are paced at 1 req/s to stay inside Slack's webhook limit.
type SlackNotifier struct {
	config      SlackConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retry       retrySettings
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(1.0, 1), // 1 req/s, burst of 1
		retry:       defaultRetrySettings(),
	}
}

// SlackWebhookPayload represents the JSON payload for a Slack webhook.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`   // Fallback text (required)
	Blocks []SlackBlock `json:"blocks"` // Rich formatting blocks
}

// SlackBlock represents a Block Kit block.
type SlackBlock struct {
	Type     string            `json:"type"`               // "header", "section", "context"
	Text     *SlackTextObject  `json:"text,omitempty"`     // Text content (for header and section)
	Fields   []SlackTextObject `json:"fields,omitempty"`   // Two-column fields (for section)
	Elements []SlackTextObject `json:"elements,omitempty"` // Elements (for context)
}

// SlackTextObject represents a text object in Block Kit.
type SlackTextObject struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"` // Actual text content
}

// Slack Block Kit limits
const (
	maxHeaderTextLength  = 150
	maxSectionTextLength = 3000
	maxSlackFields       = 10
	maxFieldTextLength   = 2000
	maxFallbackLength    = 150

	slackTruncationSuffix = "..."
)

var slackSeverityEmoji = map[string]string{
	SeverityCritical: ":rotating_light:",
	SeverityWarning:  ":warning:",
	SeverityInfo:     ":information_source:",
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

func (s *SlackNotifier) buildBlockKitPayload(msg Message) SlackWebhookPayload {
	header := strings.TrimSpace(slackSeverityEmoji[msg.Severity] + " " + msg.Subject)

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObject{Type: "plain_text", Text: truncate(header, maxHeaderTextLength, slackTruncationSuffix)},
		},
	}

	if msg.Body != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObject{Type: "mrkdwn", Text: truncate(msg.Body, maxSectionTextLength, slackTruncationSuffix)},
		})
	}

	if len(msg.Fields) > 0 {
		fields := make([]SlackTextObject, 0, min(len(msg.Fields), maxSlackFields))
		for i, f := range msg.Fields {
			if i == maxSlackFields {
				break
			}
			fields = append(fields, SlackTextObject{
				Type: "mrkdwn",
				Text: truncate(fmt.Sprintf("*%s*\n%s", f.Name, f.Value), maxFieldTextLength, slackTruncationSuffix),
			})
		}
		blocks = append(blocks, SlackBlock{Type: "section", Fields: fields})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackTextObject{
			{Type: "mrkdwn", Text: fmt.Sprintf("%s • %s", strings.ToUpper(msg.Severity), ts.UTC().Format(time.RFC3339))},
		},
	})

	return SlackWebhookPayload{
		Text:   truncate(msg.Subject, maxFallbackLength, slackTruncationSuffix),
		Blocks: blocks,
	}
}

// Send posts msg to the webhook, waiting for the rate limiter first.
func (s *SlackNotifier) Send(ctx context.Context, msg Message) error {
	requestID := uuid.New().String()
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	slog.Info("Starting Slack notification",
		slog.String("request_id", requestID),
		slog.String("subject", msg.Subject))

	if err := s.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := s.buildBlockKitPayload(msg)
	return sendWithRetry(ctx, "Slack", s.retry, func(ctx context.Context) error {
		return postJSON(ctx, s.httpClient, "Slack", s.config.WebhookURL, payload)
	})
}
