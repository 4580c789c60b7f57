// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMinio  = "minio"
	DriverLocal  = "local"
	DriverMemory = "memory"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     int    `mapstructure:"PORT"`
	AppEnv   string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// UploadToken is the shared write secret. Empty means open writes.
	UploadToken       string `mapstructure:"UPLOAD_TOKEN"`
	CDNBase           string `mapstructure:"CDN_BASE"`
	StrictKeyDecoding bool   `mapstructure:"STRICT_KEY_DECODING"`

	// Object storage (S3-compatible: MinIO locally, R2 or S3 in production)
	StorageDriver       string `mapstructure:"STORAGE_DRIVER"`
	StorageEndpoint     string `mapstructure:"STORAGE_ENDPOINT"`
	StorageAccessKey    string `mapstructure:"STORAGE_ACCESS_KEY"`
	StorageSecretKey    string `mapstructure:"STORAGE_SECRET_KEY"`
	StorageBucket       string `mapstructure:"STORAGE_BUCKET"`
	StorageRegion       string `mapstructure:"STORAGE_REGION"`
	StorageUseSSL       bool   `mapstructure:"STORAGE_USE_SSL"`
	StorageCreateBucket bool   `mapstructure:"STORAGE_CREATE_BUCKET"`
	StorageLocalRoot    string `mapstructure:"STORAGE_LOCAL_ROOT"`

	// DatabaseURL enables the upload ledger when set.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingEndpoint    string  `mapstructure:"TRACING_ENDPOINT"`
	TracingProtocol    string  `mapstructure:"TRACING_PROTOCOL"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`

	SwaggerEnabled  bool          `mapstructure:"SWAGGER_ENABLED"`
	CORSMaxAge      int           `mapstructure:"CORS_MAX_AGE"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"PORT":                  8080,
	"APP_ENV":               "development",
	"LOG_LEVEL":             "info",
	"UPLOAD_TOKEN":          "",
	"CDN_BASE":              "https://cdn.moltwallet.app",
	"STRICT_KEY_DECODING":   false,
	"STORAGE_DRIVER":        DriverMinio,
	"STORAGE_ENDPOINT":      "localhost:9000",
	"STORAGE_ACCESS_KEY":    "minioadmin",
	"STORAGE_SECRET_KEY":    "minioadmin",
	"STORAGE_BUCKET":        "token-assets",
	"STORAGE_REGION":        "",
	"STORAGE_USE_SSL":       false,
	"STORAGE_CREATE_BUCKET": false,
	"STORAGE_LOCAL_ROOT":    "./data",
	"DATABASE_URL":          "",
	"METRICS_ADDR":          "",
	"TRACING_ENABLED":       false,
	"TRACING_ENDPOINT":      "",
	"TRACING_PROTOCOL":      "grpc",
	"TRACING_SAMPLE_RATIO":  1.0,
	"SWAGGER_ENABLED":       false,
	"CORS_MAX_AGE":          300,
	"SHUTDOWN_TIMEOUT":      "30s",
}

// Load reads configuration from a .env file (if present) and environment
// variables, then validates it.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else {
		log.Debug().Msg("no .env file found, reading from environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.CDNBase = strings.TrimRight(cfg.CDNBase, "/")
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.StorageBucket = strings.TrimSpace(cfg.StorageBucket)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.StorageDriver {
	case DriverMinio:
		if c.StorageBucket == "" {
			return errors.New("STORAGE_BUCKET is required for the minio driver")
		}
		if c.StorageEndpoint == "" {
			return errors.New("STORAGE_ENDPOINT is required for the minio driver")
		}
	case DriverLocal:
		if c.StorageLocalRoot == "" {
			return errors.New("STORAGE_LOCAL_ROOT is required for the local driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1], got %v", c.TracingSampleRatio)
	}
	if c.CORSMaxAge < 0 {
		return fmt.Errorf("invalid CORS_MAX_AGE %d", c.CORSMaxAge)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %s", c.ShutdownTimeout)
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// String implements fmt.Stringer with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port=%d env=%s log_level=%s", c.Port, c.AppEnv, c.LogLevel)
	fmt.Fprintf(&sb, " upload_token=%s cdn_base=%s strict_keys=%v", mask(c.UploadToken), c.CDNBase, c.StrictKeyDecoding)
	fmt.Fprintf(&sb, " storage=%s", c.StorageDriver)
	switch c.StorageDriver {
	case DriverMinio:
		fmt.Fprintf(&sb, " endpoint=%s bucket=%s region=%s ssl=%v access_key=%s secret_key=%s",
			c.StorageEndpoint, c.StorageBucket, c.StorageRegion, c.StorageUseSSL,
			mask(c.StorageAccessKey), mask(c.StorageSecretKey))
	case DriverLocal:
		fmt.Fprintf(&sb, " root=%s", c.StorageLocalRoot)
	}
	fmt.Fprintf(&sb, " ledger=%v metrics_addr=%q tracing=%v swagger=%v",
		c.DatabaseURL != "", c.MetricsAddr, c.TracingEnabled, c.SwaggerEnabled)
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}
