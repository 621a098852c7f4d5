package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bridge service
type Config struct {
	Max      MaxConfig
	Telegram TelegramConfig
	Database DatabaseConfig
	Bridge   BridgeConfig
	Logging  LoggingConfig
	Service  ServiceConfig
}

// MaxConfig holds MAX websocket configuration
type MaxConfig struct {
	WebsocketURL string
	Origin       string

	ReconnectMaxRetries int
	AuthCodeTTL         time.Duration
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string
}

// DatabaseConfig holds PostgreSQL configuration. An empty DSN switches
// the service to the in-memory store.
type DatabaseConfig struct {
	DSN string
}

// BridgeConfig holds queue configuration
type BridgeConfig struct {
	QueueCapacity int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name string
	Port string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	maxRetries, err := strconv.Atoi(getEnv("RECONNECT_MAX_RETRIES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MAX_RETRIES: %w", err)
	}

	authCodeTTL, err := time.ParseDuration(getEnv("AUTH_CODE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_CODE_TTL: %w", err)
	}

	queueCapacity, err := strconv.Atoi(getEnv("QUEUE_CAPACITY", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_CAPACITY: %w", err)
	}

	cfg := &Config{
		Max: MaxConfig{
			WebsocketURL:        getEnv("MAX_WS_URL", "wss://ws-api.oneme.ru/websocket"),
			Origin:              getEnv("MAX_WS_ORIGIN", "https://web.max.ru"),
			ReconnectMaxRetries: maxRetries,
			AuthCodeTTL:         authCodeTTL,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
		Bridge: BridgeConfig{
			QueueCapacity: queueCapacity,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Service: ServiceConfig{
			Name: getEnv("SERVICE_NAME", "max-bridge"),
			Port: getEnv("SERVICE_PORT", "8080"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Max.WebsocketURL == "" {
		return fmt.Errorf("MAX_WS_URL is required")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	if c.Bridge.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive")
	}

	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
