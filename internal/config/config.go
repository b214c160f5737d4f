// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
)

// DefaultListenAddr is the address served when INVOICEDESK_LISTEN_ADDR is unset.
const DefaultListenAddr = "127.0.0.1:3001"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	Backend        model.StoreBackend
	CredentialFile string
	DBPath         string
	RedisAddr      string
	RedisPrefix    string
	Airtable       AirtableConfig
	StoreTimeout   time.Duration
}

// AirtableConfig holds settings for the remote-table backend.
type AirtableConfig struct {
	BaseURL string
	APIKey  string
	BaseID  string
	Table   string
	Rate    float64
}

// Load reads configuration from environment variables and returns a validated Config.
// INVOICEDESK_AIRTABLE_API_KEY and INVOICEDESK_AIRTABLE_BASE_ID are required only when
// INVOICEDESK_CREDENTIAL_BACKEND is "airtable".
// Optional variables with defaults: INVOICEDESK_LISTEN_ADDR (127.0.0.1:3001),
// INVOICEDESK_CREDENTIAL_BACKEND (file), INVOICEDESK_CREDENTIAL_FILE (db.json),
// INVOICEDESK_DB_PATH (invoicedesk.db), INVOICEDESK_REDIS_ADDR (127.0.0.1:6379),
// INVOICEDESK_REDIS_PREFIX (cred), INVOICEDESK_AIRTABLE_URL (https://api.airtable.com),
// INVOICEDESK_AIRTABLE_TABLE (Table 1), INVOICEDESK_AIRTABLE_RATE (5),
// INVOICEDESK_STORE_TIMEOUT (5s).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     ListenAddr(),
		Backend:        model.StoreBackend(envOr("INVOICEDESK_CREDENTIAL_BACKEND", string(model.StoreBackendFile))),
		CredentialFile: envOr("INVOICEDESK_CREDENTIAL_FILE", "db.json"),
		DBPath:         envOr("INVOICEDESK_DB_PATH", "invoicedesk.db"),
		RedisAddr:      envOr("INVOICEDESK_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPrefix:    envOr("INVOICEDESK_REDIS_PREFIX", "cred"),
		Airtable: AirtableConfig{
			BaseURL: envOr("INVOICEDESK_AIRTABLE_URL", "https://api.airtable.com"),
			APIKey:  os.Getenv("INVOICEDESK_AIRTABLE_API_KEY"),
			BaseID:  os.Getenv("INVOICEDESK_AIRTABLE_BASE_ID"),
			Table:   envOr("INVOICEDESK_AIRTABLE_TABLE", "Table 1"),
			Rate:    5,
		},
		StoreTimeout: 5 * time.Second,
	}

	if !cfg.Backend.Valid() {
		return nil, fmt.Errorf("INVOICEDESK_CREDENTIAL_BACKEND has unknown backend %q (want file, sqlite, redis or airtable)", cfg.Backend)
	}

	if v, ok := os.LookupEnv("INVOICEDESK_STORE_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("INVOICEDESK_STORE_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("INVOICEDESK_STORE_TIMEOUT must be positive, got %s", parsed)
		}
		cfg.StoreTimeout = parsed
	}

	if v, ok := os.LookupEnv("INVOICEDESK_AIRTABLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("INVOICEDESK_AIRTABLE_RATE must be a positive number, got %q", v)
		}
		cfg.Airtable.Rate = parsed
	}

	if cfg.Backend == model.StoreBackendAirtable {
		if cfg.Airtable.APIKey == "" {
			return nil, fmt.Errorf("INVOICEDESK_AIRTABLE_API_KEY is required for the airtable backend")
		}
		if cfg.Airtable.BaseID == "" {
			return nil, fmt.Errorf("INVOICEDESK_AIRTABLE_BASE_ID is required for the airtable backend")
		}
	}

	return cfg, nil
}

// ListenAddr returns INVOICEDESK_LISTEN_ADDR or DefaultListenAddr. It needs
// none of the backend settings, so the health check can call it without Load.
func ListenAddr() string {
	return envOr("INVOICEDESK_LISTEN_ADDR", DefaultListenAddr)
}

// envOr returns the value of key if set and non-empty, otherwise def.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
