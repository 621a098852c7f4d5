package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Max.WebsocketURL == "" {
		t.Error("Expected a default websocket URL")
	}
	if cfg.Max.ReconnectMaxRetries != 5 {
		t.Errorf("Expected default 5 retries, got %d", cfg.Max.ReconnectMaxRetries)
	}
	if cfg.Max.AuthCodeTTL != 5*time.Minute {
		t.Errorf("Expected default 5m auth TTL, got %v", cfg.Max.AuthCodeTTL)
	}
	if cfg.Bridge.QueueCapacity != 1000 {
		t.Errorf("Expected default queue capacity 1000, got %d", cfg.Bridge.QueueCapacity)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingBotToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Error("Expected validation error without bot token")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("AUTH_CODE_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unparsable AUTH_CODE_TTL")
	}
}
