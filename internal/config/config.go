// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything cmd/api needs to wire the service.
type Config struct {
	Addr string

	// Postgres DSN; empty means in-memory stores (dev mode).
	PostgresDSN string

	// Push provider application credentials.
	AppID     string
	AppSecret string

	// Base URL of the push provider; overridable for tests and staging.
	PushBaseURL string

	// Subscribe message template delivered on notify.
	TemplateID string

	// Dispatcher tuning.
	DispatchWorkers int
	PushRatePerSec  int

	SessionTTL time.Duration
}

const defaultPushBaseURL = "https://api.weixin.qq.com"

// Load reads PROSPECT_* variables, consulting .env first when present.
func Load() (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		Addr:            getenv("PROSPECT_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("PROSPECT_PG_DSN"),
		AppID:           os.Getenv("PROSPECT_WX_APPID"),
		AppSecret:       os.Getenv("PROSPECT_WX_APPSECRET"),
		PushBaseURL:     getenv("PROSPECT_PUSH_BASE_URL", defaultPushBaseURL),
		TemplateID:      os.Getenv("PROSPECT_TEMPLATE_ID"),
		DispatchWorkers: getenvInt("PROSPECT_DISPATCH_WORKERS", 4),
		PushRatePerSec:  getenvInt("PROSPECT_PUSH_RATE", 20),
		SessionTTL:      72 * time.Hour,
	}
	if cfg.DispatchWorkers <= 0 {
		return Config{}, fmt.Errorf("config: PROSPECT_DISPATCH_WORKERS must be positive")
	}
	if cfg.PushRatePerSec <= 0 {
		return Config{}, fmt.Errorf("config: PROSPECT_PUSH_RATE must be positive")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
