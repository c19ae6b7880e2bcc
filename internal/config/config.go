// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSchema   string
	DBMaxPool  int

	WhatsAppMode               string
	WhatsAppAccessToken        string
	WhatsAppPhoneNumberID      string
	WhatsAppBusinessAccountID  string
	WhatsAppAPIVersion         string
	WhatsAppWebhookSecret      string
	WhatsAppWebhookVerifyToken string
	WhatsAppWebSidecarURL      string

	ClinicName         string
	ClinicContactPhone string

	BulkSendInterval time.Duration

	TemplateName          string
	TemplateLanguage      string
	TemplateLookbackDays  int
	TemplateLookaheadDays int
	TemplateBatchLimit    int

	RedisAddr     string
	RedisPassword string
	StatsCacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnvAsInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", ""),
		DBSchema:   getEnv("DB_SCHEMA", "public"),
		DBMaxPool:  getEnvAsInt("DB_MAX_POOL", 10),

		WhatsAppMode:               strings.ToLower(strings.TrimSpace(getEnv("WHATSAPP_MODE", "business"))),
		WhatsAppAccessToken:        getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID:      getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID:  getEnv("WHATSAPP_BUSINESS_ACCOUNT_ID", ""),
		WhatsAppAPIVersion:         getEnv("WHATSAPP_API_VERSION", "v18.0"),
		WhatsAppWebhookSecret:      getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		WhatsAppWebhookVerifyToken: getEnv("WHATSAPP_WEBHOOK_VERIFY_TOKEN", ""),
		WhatsAppWebSidecarURL:      getEnv("WHATSAPP_WEB_SIDECAR_URL", "http://localhost:3333"),

		ClinicName:         getEnv("CLINIC_NAME", ""),
		ClinicContactPhone: getEnv("CLINIC_CONTACT_PHONE", ""),

		BulkSendInterval: getEnvAsDuration("BULK_SEND_INTERVAL", time.Second),

		TemplateName:          getEnv("TEMPLATE_NAME", "confirmacao_agendamento"),
		TemplateLanguage:      getEnv("TEMPLATE_LANGUAGE", "pt_BR"),
		TemplateLookbackDays:  getEnvAsInt("TEMPLATE_LOOKBACK_DAYS", 1),
		TemplateLookaheadDays: getEnvAsInt("TEMPLATE_LOOKAHEAD_DAYS", 14),
		TemplateBatchLimit:    getEnvAsInt("TEMPLATE_BATCH_LIMIT", 50),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		StatsCacheTTL: getEnvAsDuration("STATS_CACHE_TTL", 30*time.Second),
	}
}

// DatabaseConnString builds a pgx connection string from the discrete DB settings.
func (c *Config) DatabaseConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBMaxPool,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
