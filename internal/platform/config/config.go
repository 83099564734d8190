package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/text/language"
)

// Config holds all configuration for the gateway.
type Config struct {
	GatewayAddr    string        `envconfig:"GATEWAY_ADDR" default:":8080"`
	IdentityURL    string        `envconfig:"IDENTITY_URL" default:"http://localhost:8081"`
	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://localhost:8082"`
	JWKSEndpoint   string        `envconfig:"JWKS_ENDPOINT" default:"http://localhost:8081/.well-known/jwks.json"`
	JWKSMinRefresh time.Duration `envconfig:"JWKS_MIN_REFRESH" default:"5m"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	MaxBodyBytes   int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	// PolicyFile points at a YAML route policy. Empty selects DefaultPolicy.
	PolicyFile string `envconfig:"POLICY_FILE"`

	// DefaultLanguage is used for denial messages when the request has no
	// usable Accept-Language header.
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"tr"`

	// DiscloseRequiredRoles controls whether insufficient-role denials name
	// the accepted roles.
	DiscloseRequiredRoles bool `envconfig:"DISCLOSE_REQUIRED_ROLES" default:"true"`

	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
}

// RateLimitConfig holds token bucket parameters for the rate limiter. Keys
// are read as RATE_LIMIT_RATE and RATE_LIMIT_BURST.
type RateLimitConfig struct {
	Rate  float64 `envconfig:"RATE" default:"100"`
	Burst int     `envconfig:"BURST" default:"20"`
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}
	return cfg, nil
}

// Language parses DefaultLanguage, falling back to Turkish when it is not a
// valid BCP 47 tag.
func (c Config) Language() language.Tag {
	tag, err := language.Parse(c.DefaultLanguage)
	if err != nil {
		slog.Warn("invalid DEFAULT_LANGUAGE, using tr", "value", c.DefaultLanguage, "error", err)
		return language.Turkish
	}
	return tag
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
