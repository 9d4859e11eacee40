// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetInactivitySweepInterval() time.Duration
}

// WhatsAppConfig provides settings for the WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
}

// TelegramConfig provides settings for the Telegram bot gateway.
type TelegramConfig interface {
	GetTelegramURL() string
	GetTelegramToken() string
}

// VoiceConfig provides settings for the outbound voice provider.
type VoiceConfig interface {
	GetVoiceURL() string
	GetVoiceAPIKey() string
}

// CalendarConfig provides settings for the meeting scheduling collaborator.
type CalendarConfig interface {
	GetCalendarURL() string
	GetCalendarAPIKey() string
}

// EmailConfig provides settings for outbound email.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// DispatchConfig provides settings for campaign step dispatch.
type DispatchConfig interface {
	GetDispatchTimeout() time.Duration
	GetSendRatePerSecond() float64
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	InactivitySweepInterval time.Duration
	DispatchTimeout         time.Duration
	SendRatePerSecond       float64
	WhatsAppURL             string
	WhatsAppKey             string
	TelegramURL             string
	TelegramToken           string
	VoiceURL                string
	VoiceAPIKey             string
	CalendarURL             string
	CalendarAPIKey          string
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromName           string
	EmailFromAddress        string
	EmailEnabled            bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool                  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string                  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int                   { return c.AsynqConcurrency }
func (c *Config) GetInactivitySweepInterval() time.Duration  { return c.InactivitySweepInterval }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string { return c.WhatsAppKey }

// TelegramConfig implementation
func (c *Config) GetTelegramURL() string   { return c.TelegramURL }
func (c *Config) GetTelegramToken() string { return c.TelegramToken }

// VoiceConfig implementation
func (c *Config) GetVoiceURL() string    { return c.VoiceURL }
func (c *Config) GetVoiceAPIKey() string { return c.VoiceAPIKey }

// CalendarConfig implementation
func (c *Config) GetCalendarURL() string    { return c.CalendarURL }
func (c *Config) GetCalendarAPIKey() string { return c.CalendarAPIKey }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool        { return c.EmailEnabled }

// DispatchConfig implementation
func (c *Config) GetDispatchTimeout() time.Duration { return c.DispatchTimeout }
func (c *Config) GetSendRatePerSecond() float64     { return c.SendRatePerSecond }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true")

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "campaigns"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		InactivitySweepInterval: mustDuration(getEnv("INACTIVITY_SWEEP_INTERVAL", "1h")),
		DispatchTimeout:         mustDuration(getEnv("DISPATCH_TIMEOUT", "30s")),
		SendRatePerSecond:       mustFloat(getEnv("SEND_RATE_PER_SECOND", "5")),
		WhatsAppURL:             getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:             getEnv("WHATSAPP_KEY", ""),
		TelegramURL:             getEnv("TELEGRAM_URL", "https://api.telegram.org"),
		TelegramToken:           getEnv("TELEGRAM_BOT_TOKEN", ""),
		VoiceURL:                getEnv("VOICE_URL", ""),
		VoiceAPIKey:             getEnv("VOICE_API_KEY", ""),
		CalendarURL:             getEnv("CALENDAR_URL", ""),
		CalendarAPIKey:          getEnv("CALENDAR_API_KEY", ""),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "InmoCRM"),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailEnabled:            emailEnabled,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && (cfg.SMTPHost == "" || cfg.EmailFromAddress == "") {
		return nil, fmt.Errorf("SMTP_HOST and EMAIL_FROM_ADDRESS are required when EMAIL_ENABLED is true")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
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
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
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

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
