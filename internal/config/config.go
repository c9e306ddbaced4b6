package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port             string
	DatabaseURL      string
	SessionSecret    string
	GinMode          string
	LogLevel         slog.Level
	LogFormat        string
	ResultsCacheSize int
	ResultsCacheTTL  time.Duration
	TemplatesDir     string
	ShutdownTimeout  time.Duration

	// Seeded on first start when no admin exists.
	AdminEmail    string
	AdminUsername string
	AdminPassword string
}

const (
	defaultPort          = "8080"
	defaultDatabaseURL   = "host=localhost user=postgres password=postgres dbname=chaguasmart port=5432 sslmode=disable TimeZone=UTC"
	defaultSessionSecret = "secret_key_change_me"
	defaultTemplatesDir  = "./web/templates"
)

// Load reads a .env file if present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading configuration from environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a getenv-style lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:          getOr(getenv, "PORT", defaultPort),
		DatabaseURL:   getOr(getenv, "DATABASE_URL", defaultDatabaseURL),
		SessionSecret: getOr(getenv, "SESSION_SECRET", defaultSessionSecret),
		GinMode:       getenv("GIN_MODE"),
		LogFormat:     strings.ToLower(getOr(getenv, "LOG_FORMAT", "text")),
		TemplatesDir:  getOr(getenv, "TEMPLATES_DIR", defaultTemplatesDir),
		AdminEmail:    strings.TrimSpace(getenv("ADMIN_EMAIL")),
		AdminUsername: getOr(getenv, "ADMIN_USERNAME", "admin"),
		AdminPassword: getenv("ADMIN_PASSWORD"),
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return Config{}, errors.Wrapf(err, "invalid PORT %q", cfg.Port)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getOr(getenv, "LOG_LEVEL", "info"))); err != nil {
		return Config{}, errors.Wrap(err, "invalid LOG_LEVEL")
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, errors.Errorf("invalid LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}

	size, err := strconv.Atoi(getOr(getenv, "RESULTS_CACHE_SIZE", "500"))
	if err != nil || size <= 0 {
		return Config{}, errors.Errorf("invalid RESULTS_CACHE_SIZE %q", getenv("RESULTS_CACHE_SIZE"))
	}
	cfg.ResultsCacheSize = size

	if cfg.ResultsCacheTTL, err = parseDuration(getenv, "RESULTS_CACHE_TTL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = parseDuration(getenv, "SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.AdminEmail != "" && len(cfg.AdminPassword) < 8 {
		return Config{}, errors.New("ADMIN_PASSWORD must be at least 8 characters when ADMIN_EMAIL is set")
	}

	return cfg, nil
}

// Logger builds the process logger described by the config.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func getOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}
