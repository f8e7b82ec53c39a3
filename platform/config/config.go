// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
	GetAdminAPIKey() string
}

// RedisConfig provides settings for the shared Redis connection.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq replay queue.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SummarizerConfig provides settings for the transcript summarization model.
type SummarizerConfig interface {
	GetAIProvider() string
	GetAIAPIKey() string
	GetAIBaseURL() string
	GetAIModel() string
	GetAITimeout() time.Duration
	IsSummarizerEnabled() bool
}

// WebhookConfig provides settings for the inbound voice webhook.
type WebhookConfig interface {
	GetVoiceWebhookSecret() string
	GetVoiceWebhookRequireSignature() bool
	GetWebhookRateLimitPerMinute() int
}

// PipelineConfig provides tuning knobs for call-event processing.
type PipelineConfig interface {
	GetAgencyResolution() string
	GetDefaultAgencyID() string
	GetDefaultTimezone() string
	GetAggregateAttribution() string
	GetTemporalMatchWindow() time.Duration
	GetTranscriptPromptLimit() int
	GetCarrierCacheTTL() time.Duration
}

const (
	// AgencyResolutionFallback attributes unmatched calls to the default agency.
	AgencyResolutionFallback = "fallback"
	// AgencyResolutionStrict leaves unmatched calls without an agency.
	AgencyResolutionStrict = "strict"

	// AttributionMembers increments daily counters for every agency member.
	AttributionMembers = "members"
	// AttributionAssigned increments daily counters for the number's assigned agent only.
	AttributionAssigned = "assigned"
)

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                          string
	HTTPAddr                     string
	DatabaseURL                  string
	MigrationsEnabled            bool
	CORSOrigins                  []string
	AdminAPIKey                  string
	RedisURL                     string
	RedisTLSInsecure             bool
	AsynqQueueName               string
	AsynqConcurrency             int
	AIProvider                   string
	AIAPIKey                     string
	AIBaseURL                    string
	AIModel                      string
	AITimeout                    time.Duration
	VoiceWebhookSecret           string
	VoiceWebhookRequireSignature bool
	WebhookRateLimitPerMinute    int
	AgencyResolution             string
	DefaultAgencyID              string
	DefaultTimezone              string
	AggregateAttribution         string
	TemporalMatchWindow          time.Duration
	TranscriptPromptLimit        int
	CarrierCacheTTL              time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetAdminAPIKey() string    { return c.AdminAPIKey }

// RedisConfig / SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// SummarizerConfig implementation
func (c *Config) GetAIProvider() string       { return c.AIProvider }
func (c *Config) GetAIAPIKey() string         { return c.AIAPIKey }
func (c *Config) GetAIBaseURL() string        { return c.AIBaseURL }
func (c *Config) GetAIModel() string          { return c.AIModel }
func (c *Config) GetAITimeout() time.Duration { return c.AITimeout }
func (c *Config) IsSummarizerEnabled() bool {
	return c.AIProvider != "" && c.AIAPIKey != ""
}

// WebhookConfig implementation
func (c *Config) GetVoiceWebhookSecret() string         { return c.VoiceWebhookSecret }
func (c *Config) GetVoiceWebhookRequireSignature() bool { return c.VoiceWebhookRequireSignature }
func (c *Config) GetWebhookRateLimitPerMinute() int     { return c.WebhookRateLimitPerMinute }

// PipelineConfig implementation
func (c *Config) GetAgencyResolution() string           { return c.AgencyResolution }
func (c *Config) GetDefaultAgencyID() string            { return c.DefaultAgencyID }
func (c *Config) GetDefaultTimezone() string            { return c.DefaultTimezone }
func (c *Config) GetAggregateAttribution() string       { return c.AggregateAttribution }
func (c *Config) GetTemporalMatchWindow() time.Duration { return c.TemporalMatchWindow }
func (c *Config) GetTranscriptPromptLimit() int         { return c.TranscriptPromptLimit }
func (c *Config) GetCarrierCacheTTL() time.Duration     { return c.CarrierCacheTTL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                          getEnv("APP_ENV", "development"),
		HTTPAddr:                     getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		MigrationsEnabled:            strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		CORSOrigins:                  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		AdminAPIKey:                  getEnv("ADMIN_API_KEY", ""),
		RedisURL:                     getEnv("REDIS_URL", ""),
		RedisTLSInsecure:             strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:               getEnv("ASYNQ_QUEUE", "callevents"),
		AsynqConcurrency:             mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		AIProvider:                   strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", ""))),
		AIAPIKey:                     getEnv("AI_API_KEY", ""),
		AIBaseURL:                    getEnv("AI_BASE_URL", ""),
		AIModel:                      getEnv("AI_MODEL", ""),
		AITimeout:                    mustDuration(getEnv("AI_TIMEOUT", "20s")),
		VoiceWebhookSecret:           getEnv("VOICE_WEBHOOK_SECRET", ""),
		VoiceWebhookRequireSignature: strings.EqualFold(getEnv("VOICE_WEBHOOK_REQUIRE_SIGNATURE", "false"), "true"),
		WebhookRateLimitPerMinute:    mustInt(getEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE", "600")),
		AgencyResolution:             strings.ToLower(getEnv("AGENCY_RESOLUTION", AgencyResolutionFallback)),
		DefaultAgencyID:              getEnv("DEFAULT_AGENCY_ID", ""),
		DefaultTimezone:              getEnv("DEFAULT_TIMEZONE", "America/Chicago"),
		AggregateAttribution:         strings.ToLower(getEnv("AGGREGATE_ATTRIBUTION", AttributionMembers)),
		TemporalMatchWindow:          mustDuration(getEnv("TEMPORAL_MATCH_WINDOW", "5m")),
		TranscriptPromptLimit:        mustInt(getEnv("TRANSCRIPT_PROMPT_LIMIT", "3000")),
		CarrierCacheTTL:              mustDuration(getEnv("CARRIER_CACHE_TTL", "6h")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.AgencyResolution {
	case AgencyResolutionFallback, AgencyResolutionStrict:
	default:
		return fmt.Errorf("AGENCY_RESOLUTION must be %q or %q", AgencyResolutionFallback, AgencyResolutionStrict)
	}
	switch c.AggregateAttribution {
	case AttributionMembers, AttributionAssigned:
	default:
		return fmt.Errorf("AGGREGATE_ATTRIBUTION must be %q or %q", AttributionMembers, AttributionAssigned)
	}
	switch c.AIProvider {
	case "", "openai", "moonshot", "gemini":
	default:
		return fmt.Errorf("AI_PROVIDER %q is not supported", c.AIProvider)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if c.TemporalMatchWindow <= 0 {
		c.TemporalMatchWindow = 5 * time.Minute
	}
	if c.TranscriptPromptLimit <= 0 {
		c.TranscriptPromptLimit = 3000
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
