package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PratikDhanave/evidence-ingest-service/internal/verify"
)

// MemoryDatabaseURL selects the in-process ledger instead of Postgres.
const MemoryDatabaseURL = "memory://"

const (
	defaultPort            = "8080"
	defaultMaxUploadBytes  = 50 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// Config contains runtime configuration required by the service.
// It is built once at boot and passed explicitly; nothing reads the environment afterwards.
type Config struct {
	DatabaseURL     string
	Port            string
	Environment     string
	LogLevel        string
	APIKey          string
	SigningRequired bool
	SigningKeys     verify.Keyring
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// Production reports whether APP_ENV=production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return FromEnviron(os.Environ())
}

// FromEnviron builds a Config from KEY=VALUE pairs.
func FromEnviron(environ []string) (Config, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = strings.TrimSpace(v)
	}

	cfg := Config{
		DatabaseURL:     env["DATABASE_URL"],
		Port:            env["PORT"],
		Environment:     env["APP_ENV"],
		LogLevel:        env["LOG_LEVEL"],
		APIKey:          env["INGEST_API_KEY"],
		SigningRequired: parseBool(env["SIGNING_REQUIRED"], true),
		SigningKeys:     verify.Keyring{},
		MaxUploadBytes:  defaultMaxUploadBytes,
		ShutdownTimeout: defaultShutdownTimeout,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL required")
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.APIKey == "" && cfg.Production() {
		return Config{}, errors.New("INGEST_API_KEY required in production")
	}

	if raw := env["MAX_UPLOAD_BYTES"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES must be a positive integer, got %q", raw)
		}
		cfg.MaxUploadBytes = n
	}

	if raw := env["SHUTDOWN_TIMEOUT"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT must be a positive duration, got %q", raw)
		}
		cfg.ShutdownTimeout = d
	}

	for k, v := range env {
		suffix, ok := strings.CutPrefix(k, verify.KeyEnvPrefix)
		if !ok || suffix == "" || v == "" {
			continue
		}
		cfg.SigningKeys[suffix] = []byte(v)
	}

	return cfg, nil
}

// parseBool treats 1/true/yes as true; any other non-empty value is false.
func parseBool(v string, def bool) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
