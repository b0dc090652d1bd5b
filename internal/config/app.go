// Package config assembles the service configuration from the environment
// and the optional sources file.
//
// Loading is fail-open: an invalid value falls back to its default, the
// substitution is returned as a warning and counted in the config metrics.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"techpulse/internal/domain/entity"
	"techpulse/internal/infra/enricher"
	"techpulse/internal/infra/llm"
	"techpulse/internal/infra/notifier"
	pkgconfig "techpulse/internal/pkg/config"
	"techpulse/internal/usecase/alert"
	"techpulse/internal/usecase/healing"
	"techpulse/internal/usecase/health"
	"techpulse/internal/usecase/monitor"
	"techpulse/internal/usecase/refresh"
)

// AppConfig is the complete service configuration.
type AppConfig struct {
	// HTTP
	Port               int
	SelfURL            string
	RequestTimeout     time.Duration
	CORSAllowedOrigins []string
	// RefreshRateLimit caps manual refresh requests per client per minute
	RefreshRateLimit int
	// TrustedProxies may set X-Forwarded-For / X-Real-IP; empty trusts nobody
	TrustedProxies []netip.Prefix

	// Logging
	LogDir string

	// Database
	DatabaseURL    string
	DBPingInterval time.Duration

	// Components
	Refresh  refresh.Config
	Alert    alert.Config
	Monitor  monitor.Config
	Healing  healing.Config
	Health   health.Config
	Enricher enricher.Config
	LLM      llm.Config

	// Channels
	Slack   notifier.SlackConfig
	Discord notifier.DiscordConfig
	Email   notifier.EmailConfig

	// Upstream sources
	SourcesFile      string
	Sources          []entity.SourceSpec
	GeneratedContent bool
}

// Load reads the configuration. m may be nil. The returned warnings list
// every value that was rejected and replaced by its default.
func Load(m *pkgconfig.ConfigMetrics) (*AppConfig, []string, error) {
	l := &loader{metrics: m}
	cfg := &AppConfig{}

	cfg.Port = l.getInt("PORT", 8080, func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 65535) })
	cfg.SelfURL = l.getString("SELF_URL", fmt.Sprintf("http://localhost:%d", cfg.Port), entity.ValidateURL)
	cfg.RequestTimeout = l.getDuration("HTTP_REQUEST_TIMEOUT", 90*time.Second, between(time.Second, 10*time.Minute))
	cfg.CORSAllowedOrigins = splitList(pkgconfig.LoadEnvString("CORS_ALLOWED_ORIGINS", "*"))
	cfg.RefreshRateLimit = l.getInt("REFRESH_RATE_LIMIT", 6, intRange(1, 600))
	cfg.TrustedProxies = l.trustedProxies()
	cfg.LogDir = pkgconfig.LoadEnvString("LOG_DIR", "logs")

	cfg.DatabaseURL = pkgconfig.LoadEnvString("DATABASE_URL", "")
	cfg.DBPingInterval = l.getDuration("DB_PING_INTERVAL", 30*time.Second, between(time.Second, time.Hour))

	cfg.Refresh = l.refreshConfig()
	cfg.Alert = l.alertConfig()
	cfg.Monitor = l.monitorConfig()
	cfg.Healing = l.healingConfig()
	cfg.Health = l.healthConfig()
	cfg.Enricher = l.enricherConfig()
	cfg.LLM = l.llmConfig()
	cfg.Slack, cfg.Discord, cfg.Email = l.channelConfigs()

	cfg.GeneratedContent = l.getBool("AI_CONTENT_ENABLED", false)
	cfg.SourcesFile = pkgconfig.LoadEnvString("SOURCES_FILE", "")
	sources, err := LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, l.warnings, err
	}
	cfg.Sources = sources
	if cfg.GeneratedContent {
		cfg.Sources = append(cfg.Sources, generatedSpecs(cfg.Sources)...)
	}

	if m != nil {
		m.RecordLoadTimestamp()
		m.SetFallbackActive(len(l.warnings) > 0)
	}
	return cfg, l.warnings, nil
}

// generatedSpecs adds a generated source to every resource that does not
// already have one configured.
func generatedSpecs(existing []entity.SourceSpec) []entity.SourceSpec {
	has := make(map[entity.ResourceType]bool)
	for _, s := range existing {
		if s.Kind == entity.SourceKindGenerated {
			has[s.Resource] = true
		}
	}
	var out []entity.SourceSpec
	for _, r := range entity.AllResources() {
		if has[r] {
			continue
		}
		out = append(out, entity.SourceSpec{
			Name:     "ai-" + string(r),
			Kind:     entity.SourceKindGenerated,
			Resource: r,
			Limit:    5,
			Timeout:  60 * time.Second,
		})
	}
	return out
}

type loader struct {
	metrics  *pkgconfig.ConfigMetrics
	warnings []string
}

func collect[T any](l *loader, field string, res pkgconfig.LoadResult[T]) T {
	if res.FallbackApplied {
		l.warnings = append(l.warnings, res.Warnings...)
		if l.metrics != nil {
			l.metrics.RecordFallback(field)
		}
	}
	return res.Value
}

func (l *loader) getInt(key string, def int, validate func(int) error) int {
	return collect(l, key, pkgconfig.LoadEnvInt(key, def, validate))
}

func (l *loader) getDuration(key string, def time.Duration, validate func(time.Duration) error) time.Duration {
	return collect(l, key, pkgconfig.LoadEnvDuration(key, def, validate))
}

func (l *loader) getPercent(key string, def float64) float64 {
	return collect(l, key, pkgconfig.LoadEnvFloat(key, def, pkgconfig.ValidatePercent))
}

func (l *loader) getBool(key string, def bool) bool {
	return collect(l, key, pkgconfig.LoadEnvBool(key, def))
}

func (l *loader) getString(key, def string, validate func(string) error) string {
	return collect(l, key, pkgconfig.LoadEnvWithFallback(key, def, validate))
}

func (l *loader) warn(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

// trustedProxies reads RATE_LIMIT_TRUSTED_PROXIES. An invalid list trusts
// nobody, so forwarding headers are ignored rather than half-applied.
func (l *loader) trustedProxies() []netip.Prefix {
	const key = "RATE_LIMIT_TRUSTED_PROXIES"
	raw := pkgconfig.LoadEnvString(key, "")
	if raw == "" {
		return nil
	}
	prefixes, err := pkgconfig.ParsePrefixes(splitList(raw))
	if err != nil {
		l.warn("%s: %v, forwarding headers will be ignored", key, err)
		if l.metrics != nil {
			l.metrics.RecordFallback(key)
		}
		return nil
	}
	return prefixes
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func between(min, max time.Duration) func(time.Duration) error {
	return func(d time.Duration) error { return pkgconfig.ValidateDuration(d, min, max) }
}

func intRange(min, max int) func(int) error {
	return func(v int) error { return pkgconfig.ValidateIntRange(v, min, max) }
}

func (l *loader) refreshConfig() refresh.Config {
	cfg := refresh.DefaultConfig()

	news := cfg.Resources[entity.ResourceNews]
	news.Interval = l.getDuration("UPDATE_NEWS_INTERVAL", news.Interval, between(time.Minute, 7*24*time.Hour))
	news.MaxRecords = l.getInt("NEWS_MAX_RECORDS", news.MaxRecords, intRange(1, 200))
	news.RetryBaseDelay = l.getDuration("NEWS_RETRY_BASE_DELAY", news.RetryBaseDelay, between(0, time.Minute))

	hacks := cfg.Resources[entity.ResourceHackathons]
	hacks.Interval = l.getDuration("UPDATE_HACKATHONS_INTERVAL", hacks.Interval, between(time.Minute, 7*24*time.Hour))
	hacks.MaxRecords = l.getInt("HACKATHONS_MAX_RECORDS", hacks.MaxRecords, intRange(1, 200))
	hacks.RetryBaseDelay = l.getDuration("HACKATHONS_RETRY_BASE_DELAY", hacks.RetryBaseDelay, between(0, time.Minute))

	attempts := l.getInt("REFRESH_RETRY_ATTEMPTS", news.RetryAttempts, intRange(1, 10))
	news.RetryAttempts = attempts
	hacks.RetryAttempts = attempts

	cfg.Resources[entity.ResourceNews] = news
	cfg.Resources[entity.ResourceHackathons] = hacks
	return cfg
}

func (l *loader) alertConfig() alert.Config {
	cfg := alert.DefaultConfig()
	cfg.Enabled = l.getBool("ALERT_ENABLED", cfg.Enabled)
	cfg.Cooldown = l.getDuration("ALERT_COOLDOWN", cfg.Cooldown, between(time.Second, 24*time.Hour))
	cfg.DigestSchedule = l.getString("DIGEST_SCHEDULE", cfg.DigestSchedule, func(s string) error {
		if strings.EqualFold(s, "off") {
			return nil
		}
		return pkgconfig.ValidateCronSchedule(s)
	})
	if strings.EqualFold(cfg.DigestSchedule, "off") {
		cfg.DigestSchedule = ""
	}
	cfg.Timezone = l.getString("DIGEST_TIMEZONE", cfg.Timezone, pkgconfig.ValidateTimezone)
	return cfg
}

func (l *loader) monitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Capacity = l.getInt("ERROR_BUFFER_SIZE", cfg.Capacity, intRange(1, 10000))
	cfg.WarningEscalationThreshold = l.getInt("WARNING_ESCALATION_THRESHOLD", cfg.WarningEscalationThreshold, intRange(1, 1000))
	cfg.WarningEscalationWindow = l.getDuration("WARNING_ESCALATION_WINDOW", cfg.WarningEscalationWindow, between(time.Second, 24*time.Hour))
	cfg.RestartDelay = l.getDuration("TASK_RESTART_DELAY", cfg.RestartDelay, between(100*time.Millisecond, 10*time.Minute))
	if cfg.RecentLimit > cfg.Capacity {
		cfg.RecentLimit = cfg.Capacity
	}
	return cfg
}

func (l *loader) healingConfig() healing.Config {
	cfg := healing.DefaultConfig()
	cfg.ReconnectAttempts = l.getInt("RECONNECT_ATTEMPTS", cfg.ReconnectAttempts, intRange(1, 20))
	cfg.ReconnectBaseDelay = l.getDuration("RECONNECT_BASE_DELAY", cfg.ReconnectBaseDelay, between(100*time.Millisecond, 5*time.Minute))
	cfg.MemoryInterval = l.getDuration("MEMORY_CHECK_INTERVAL", cfg.MemoryInterval, between(time.Second, time.Hour))

	warning := l.getPercent("MEMORY_WARNING_PERCENT", cfg.MemoryWarningPercent)
	critical := l.getPercent("MEMORY_CRITICAL_PERCENT", cfg.MemoryCriticalPercent)
	if warning >= critical {
		l.warn("MEMORY_WARNING_PERCENT (%.0f) must be below MEMORY_CRITICAL_PERCENT (%.0f), falling back to defaults '%.0f' and '%.0f'",
			warning, critical, cfg.MemoryWarningPercent, cfg.MemoryCriticalPercent)
		if l.metrics != nil {
			l.metrics.RecordFallback("MEMORY_WARNING_PERCENT")
		}
	} else {
		cfg.MemoryWarningPercent = warning
		cfg.MemoryCriticalPercent = critical
	}
	return cfg
}

func (l *loader) healthConfig() health.Config {
	cfg := health.DefaultConfig()
	cfg.Interval = l.getDuration("HEALTH_CHECK_INTERVAL", cfg.Interval, between(10*time.Second, 24*time.Hour))
	return cfg
}

func (l *loader) enricherConfig() enricher.Config {
	cfg := enricher.DefaultConfig()
	cfg.Enabled = l.getBool("CONTENT_FETCH_ENABLED", cfg.Enabled)
	cfg.Threshold = l.getInt("CONTENT_FETCH_THRESHOLD", cfg.Threshold, intRange(0, 10000))
	cfg.Timeout = l.getDuration("CONTENT_FETCH_TIMEOUT", cfg.Timeout, between(time.Second, 2*time.Minute))
	cfg.Parallelism = l.getInt("CONTENT_FETCH_PARALLELISM", cfg.Parallelism, intRange(1, 20))
	cfg.DenyPrivateIPs = l.getBool("CONTENT_FETCH_DENY_PRIVATE_IPS", cfg.DenyPrivateIPs)
	return cfg
}

// llmConfig picks the provider from LLM_PROVIDER, or from whichever API key is set
// (Groq, then OpenAI, then Anthropic).
func (l *loader) llmConfig() llm.Config {
	keys := map[string]string{
		llm.ProviderGroq:   pkgconfig.LoadEnvString("GROQ_API_KEY", ""),
		llm.ProviderOpenAI: pkgconfig.LoadEnvString("OPENAI_API_KEY", ""),
		llm.ProviderClaude: pkgconfig.LoadEnvString("ANTHROPIC_API_KEY", ""),
	}

	provider := l.getString("LLM_PROVIDER", "", pkgconfig.ValidateOneOf(
		llm.ProviderGroq, llm.ProviderOpenAI, llm.ProviderClaude, llm.ProviderNone))
	if provider == "" {
		provider = llm.ProviderNone
		for _, p := range []string{llm.ProviderGroq, llm.ProviderOpenAI, llm.ProviderClaude} {
			if keys[p] != "" {
				provider = p
				break
			}
		}
	}

	return llm.Config{
		Provider:  provider,
		APIKey:    keys[provider],
		Model:     pkgconfig.LoadEnvString("LLM_MODEL", ""),
		BaseURL:   pkgconfig.LoadEnvString("LLM_BASE_URL", ""),
		MaxTokens: l.getInt("LLM_MAX_TOKENS", 2000, intRange(64, 32000)),
		Timeout:   l.getDuration("LLM_TIMEOUT", 60*time.Second, between(time.Second, 5*time.Minute)),
	}
}

func (l *loader) channelConfigs() (notifier.SlackConfig, notifier.DiscordConfig, notifier.EmailConfig) {
	slack := notifier.SlackConfig{
		WebhookURL: l.getString("SLACK_WEBHOOK_URL", "", pkgconfig.ValidateWebhookURL),
		Timeout:    10 * time.Second,
	}
	slack.Enabled = slack.WebhookURL != ""

	discord := notifier.DiscordConfig{
		WebhookURL: l.getString("DISCORD_WEBHOOK_URL", "", pkgconfig.ValidateWebhookURL),
		Timeout:    10 * time.Second,
	}
	discord.Enabled = discord.WebhookURL != ""

	user := pkgconfig.LoadEnvString("EMAIL_USER", "")
	email := notifier.EmailConfig{
		Host:     pkgconfig.LoadEnvString("SMTP_HOST", "smtp.gmail.com"),
		Port:     l.getInt("SMTP_PORT", 587, intRange(1, 65535)),
		Username: user,
		Password: pkgconfig.LoadEnvString("EMAIL_PASS", ""),
		From:     l.getString("EMAIL_FROM", user, pkgconfig.ValidateEmail),
		Timeout:  30 * time.Second,
	}
	if admin := l.getString("ADMIN_EMAIL", "", pkgconfig.ValidateEmail); admin != "" {
		email.To = []string{admin}
	}
	email.Enabled = email.Username != "" && email.Password != "" && len(email.To) > 0
	return slack, discord, email
}
