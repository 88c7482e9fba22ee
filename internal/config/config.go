// Package config loads the client core configuration. Priority: environment
// variables > YAML file (CONFIG_PATH or config/client.yaml) > defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/chatcore/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client core.
type Config struct {
	// Endpoints
	WSURL  string // wss://<host>/<path>, token appended as query param
	APIURL string // REST collaborator base URL

	// Reconnect policy
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	// Reconciliation bounds
	PendingSendTTL   time.Duration // fallback-match window for optimistic sends
	ConfirmedIDCap   int           // bulk-cleared when exceeded
	MessagePageSize  int
	CacheMaxMessages int // per-conversation retention in the local cache

	// Cache collaborator
	RedisURL string
	CacheTTL time.Duration

	LogLevel string
}

// yamlConfig is the intermediate YAML shape (durations in seconds/minutes).
type yamlConfig struct {
	WSURL                string `yaml:"ws_url"`
	APIURL               string `yaml:"api_url"`
	ReconnectBaseDelayMS int    `yaml:"reconnect_base_delay_ms"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	PendingSendTTLMS     int    `yaml:"pending_send_ttl_ms"`
	ConfirmedIDCap       int    `yaml:"confirmed_id_cap"`
	MessagePageSize      int    `yaml:"message_page_size"`
	CacheMaxMessages     int    `yaml:"cache_max_messages"`
	RedisURL             string `yaml:"redis_url"`
	CacheTTLMinutes      int    `yaml:"cache_ttl_minutes"`
	LogLevel             string `yaml:"log_level"`
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in increasing priority.
func Load() *Config {
	yc := yamlConfig{
		WSURL:                "wss://localhost:8080/ws",
		APIURL:               "https://localhost:8080/api",
		ReconnectBaseDelayMS: 1000,
		MaxReconnectAttempts: 5,
		PendingSendTTLMS:     30000,
		ConfirmedIDCap:       500,
		MessagePageSize:      50,
		CacheMaxMessages:     200,
		RedisURL:             "redis://localhost:6379",
		CacheTTLMinutes:      0, // 0 means no expiry, bounded by CacheMaxMessages
		LogLevel:             "info",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (defaults kept)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	return &Config{
		WSURL:                envStr("WS_URL", yc.WSURL),
		APIURL:               envStr("API_URL", yc.APIURL),
		ReconnectBaseDelay:   time.Duration(envInt("RECONNECT_BASE_DELAY_MS", yc.ReconnectBaseDelayMS)) * time.Millisecond,
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", yc.MaxReconnectAttempts),
		PendingSendTTL:       time.Duration(envInt("PENDING_SEND_TTL_MS", yc.PendingSendTTLMS)) * time.Millisecond,
		ConfirmedIDCap:       envInt("CONFIRMED_ID_CAP", yc.ConfirmedIDCap),
		MessagePageSize:      envInt("MESSAGE_PAGE_SIZE", yc.MessagePageSize),
		CacheMaxMessages:     envInt("CACHE_MAX_MESSAGES", yc.CacheMaxMessages),
		RedisURL:             envStr("REDIS_URL", yc.RedisURL),
		CacheTTL:             time.Duration(envInt("CACHE_TTL_MINUTES", yc.CacheTTLMinutes)) * time.Minute,
		LogLevel:             envStr("LOG_LEVEL", yc.LogLevel),
	}
}

// envStr returns the environment value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment value or fallback.
func envInt(key string, fallback int) int {
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
