// Package config loads the finance engine configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration shared by the server and the CLI.
type Config struct {
	DB       DBConfig
	HTTP     HTTPConfig
	Auth     AuthConfig
	Export   ExportConfig
	LogLevel string

	// TypologyFile is an optional YAML typology; empty means the default one.
	TypologyFile    string
	DocumentBaseURL string
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver string // sqlite | postgres
	DSN    string
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port      int
	RateLimit float64 // requests per second per client, 0 disables limiting
	RateBurst int
}

// AuthConfig holds the bearer token verification key.
type AuthConfig struct {
	JWTSecret string
}

// ExportConfig drives the daily accounting export. An empty Dir disables it.
type ExportConfig struct {
	Dir      string
	Interval time.Duration

	// FiscalYearStart is the first month of the association's fiscal year.
	FiscalYearStart time.Month
}

// Load reads the configuration. A .env file in the working directory is
// loaded when present; an explicit envPath must exist.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	port, err := parseIntEnv("FINANCE_HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	burst, err := parseIntEnv("FINANCE_RATE_BURST", 20)
	if err != nil {
		return nil, err
	}
	rate, err := parseFloatEnv("FINANCE_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}
	interval, err := parseDurationEnv("FINANCE_EXPORT_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	fiscalStart, err := parseIntEnv("FINANCE_FISCAL_YEAR_START", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DB: DBConfig{
			Driver: strings.ToLower(getEnvOrDefault("FINANCE_DB_DRIVER", "sqlite")),
			DSN:    getEnvOrDefault("FINANCE_DB_DSN", "finance.db"),
		},
		HTTP: HTTPConfig{
			Port:      port,
			RateLimit: rate,
			RateBurst: burst,
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("FINANCE_JWT_SECRET"),
		},
		Export: ExportConfig{
			Dir:             os.Getenv("FINANCE_EXPORT_DIR"),
			Interval:        interval,
			FiscalYearStart: time.Month(fiscalStart),
		},
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		TypologyFile:    os.Getenv("FINANCE_TYPOLOGY_FILE"),
		DocumentBaseURL: os.Getenv("FINANCE_DOCUMENT_BASE_URL"),
	}
	return cfg, nil
}

// Validate checks the driver and that every named key is set. Keys are
// "db.dsn", "auth.jwtSecret", "typologyFile", "documentBaseUrl" and
// "export.dir".
func (c *Config) Validate(required ...string) error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported FINANCE_DB_DRIVER %q (want sqlite or postgres)", c.DB.Driver)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("FINANCE_RATE_LIMIT must not be negative")
	}
	if c.Export.Interval <= 0 {
		return fmt.Errorf("FINANCE_EXPORT_INTERVAL must be positive")
	}
	if c.Export.FiscalYearStart < time.January || c.Export.FiscalYearStart > time.December {
		return fmt.Errorf("FINANCE_FISCAL_YEAR_START must be a month number (1-12)")
	}

	var missing []string
	for _, key := range required {
		var value string
		switch key {
		case "db.dsn":
			value = c.DB.DSN
		case "auth.jwtSecret":
			value = c.Auth.JWTSecret
		case "typologyFile":
			value = c.TypologyFile
		case "documentBaseUrl":
			value = c.DocumentBaseURL
		case "export.dir":
			value = c.Export.Dir
		default:
			return fmt.Errorf("unknown configuration key %q", key)
		}
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file or environment variables", missing)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number value for %s: %s", key, value)
	}
	return parsed, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value for %s: %s", key, value)
	}
	return parsed, nil
}
