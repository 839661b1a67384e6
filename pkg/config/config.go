package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds the process configuration, read from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"3000"`

	// Storage. An empty DSN selects the in-memory store outside production.
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Cross-instance broadcast fan-out. Empty keeps broadcasts in-process.
	RedisURL string `env:"REDIS_URL"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Points granted to a member on registration.
	InitialPoints int `env:"INITIAL_POINTS" envDefault:"10"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
}

// LoadConfig loads the .env file for the current environment and parses the
// process environment into a Config.
func LoadConfig() (*Config, error) {
	switch os.Getenv("ENVIRONMENT") {
	case "production":
		loadEnvFile(".env.production")
	case "test":
		// tests configure the environment explicitly
	default:
		loadEnvFile(".env.local")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	if cfg.IsProduction() {
		cfg.Debug = false
	}
	if cfg.Debug && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

var (
	cachedConfig *Config
	cachedErr    error
	configOnce   sync.Once
)

// GetCached returns the process-wide Config, parsed once per cold start.
func GetCached() (*Config, error) {
	configOnce.Do(func() {
		cachedConfig, cachedErr = LoadConfig()
	})
	return cachedConfig, cachedErr
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN must be set in production")
		}
	} else if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.InitialPoints < 0 {
		return fmt.Errorf("INITIAL_POINTS must not be negative, got %d", c.InitialPoints)
	}

	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the service runs in development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesMemoryStore reports whether no external database is configured.
func (c *Config) UsesMemoryStore() bool {
	return c.PostgresDSN == ""
}

// loadEnvFile sets KEY=VALUE pairs from filename for keys not already set.
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// strip surrounding quotes
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
