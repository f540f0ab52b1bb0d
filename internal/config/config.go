/**
 * @description
 * Configuration loader for the MarginWatch backend.
 * Reads environment variables, applies defaults, and validates the critical ones.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os", "fmt", "strconv", "time"
 *
 * @notes
 * - Fails fast if DATABASE_URL is missing or the reference timezone is unknown.
 * - Pipeline windows (retention, look-back, tolerance) are tunable via env but
 *   default to the values the delta views were verified against; changing them
 *   changes observable behavior.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Pipeline PipelineConfig
	Sheets   SheetsConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development" or "production"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// AuthConfig holds the keys guarding the three boundaries: owner reads (JWT),
// agent ingestion (shared API key), and manual job triggers (shared secret).
type AuthConfig struct {
	JWKSURL      string
	IngestAPIKey string
	JobSecret    string
}

// PipelineConfig holds the time windows of the snapshot pipeline.
type PipelineConfig struct {
	RetentionHours      int    // raw snapshots older than this are rotated out
	AnchorLookbackHours int    // how far back the anchor lookup scans
	DeltaToleranceMin   int    // +/- window around "now - 24h"
	AnchorHourLocal     int    // daily anchor, in the reference timezone
	ReferenceTZ         string // IANA name, e.g. "Asia/Tokyo"

	Location *time.Location // resolved from ReferenceTZ at load time
}

// SheetsConfig holds the outbound webhook sink settings
type SheetsConfig struct {
	WebhookURL string
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (prod injects env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Auth: AuthConfig{
			JWKSURL:      getEnv("AUTH_JWKS_URL", ""),
			IngestAPIKey: sanitizeCredential(getEnv("INGEST_API_KEY", "")),
			JobSecret:    sanitizeCredential(getEnv("JOB_TRIGGER_SECRET", "")),
		},
		Pipeline: PipelineConfig{
			RetentionHours:      getEnvAsInt("RETENTION_HOURS", 48),
			AnchorLookbackHours: getEnvAsInt("ANCHOR_LOOKBACK_HOURS", 36),
			DeltaToleranceMin:   getEnvAsInt("DELTA_TOLERANCE_MIN", 30),
			AnchorHourLocal:     getEnvAsInt("ANCHOR_HOUR_LOCAL", 8),
			ReferenceTZ:         getEnv("REFERENCE_TZ", "Asia/Tokyo"),
		},
		Sheets: SheetsConfig{
			WebhookURL: getEnv("SHEETS_WEBHOOK_URL", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Pipeline.ReferenceTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid REFERENCE_TZ %q: %w", cfg.Pipeline.ReferenceTZ, err)
	}
	cfg.Pipeline.Location = loc

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Pipeline.RetentionHours < cfg.Pipeline.AnchorLookbackHours {
		return fmt.Errorf("RETENTION_HOURS (%d) must cover ANCHOR_LOOKBACK_HOURS (%d)",
			cfg.Pipeline.RetentionHours, cfg.Pipeline.AnchorLookbackHours)
	}
	if cfg.Pipeline.AnchorHourLocal < 0 || cfg.Pipeline.AnchorHourLocal > 23 {
		return fmt.Errorf("ANCHOR_HOUR_LOCAL must be 0-23, got %d", cfg.Pipeline.AnchorHourLocal)
	}
	if cfg.Auth.IngestAPIKey == "" && cfg.Server.Env != "test" {
		// Warning: without it the ingestion boundary accepts nobody
		fmt.Println("Warning: INGEST_API_KEY is missing. Ingestion requests will be rejected.")
	}
	return nil
}

// Retention returns the raw-snapshot retention horizon as a duration.
func (p PipelineConfig) Retention() time.Duration {
	return time.Duration(p.RetentionHours) * time.Hour
}

// AnchorLookback returns the anchor-lookup scan window as a duration.
func (p PipelineConfig) AnchorLookback() time.Duration {
	return time.Duration(p.AnchorLookbackHours) * time.Hour
}

// DeltaTolerance returns the 24h-ago lookup tolerance as a duration.
func (p PipelineConfig) DeltaTolerance() time.Duration {
	return time.Duration(p.DeltaToleranceMin) * time.Minute
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
