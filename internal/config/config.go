// Package config loads relay settings from the environment. A .env file in
// the working directory, when present, is loaded first and never overrides
// variables that are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the relay server and the moderator CLI.
type Config struct {
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // deadline for the store calls of one action

	DBDriver    string // "sqlite3" or "postgres"
	DatabaseURL string

	RedisAddr  string // empty disables rate limiting
	NATSURL    string // empty keeps public fan-out process-local
	ServerName string

	Moderators     []string
	PasswordScheme string // "bcrypt" or "plaintext"

	ContentFilter bool     // screen public chat text
	BlockedTerms  []string // replaces the default blocklist when set

	LogLevel string
	LogDev   bool
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	name, _ := os.Hostname()
	if name == "" {
		name = "relay-1"
	}
	return Config{
		ListenAddr:     ":2573",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 5 * time.Second,
		DBDriver:       "sqlite3",
		DatabaseURL:    "relay.db",
		ServerName:     name,
		Moderators:     []string{"hideyoshi.xaotiq", "moderator.roman"},
		PasswordScheme: "bcrypt",
		LogLevel:       "info",
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from Default and the variables visible through
// getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if err := intVar(getenv, "WORKER_POOL_SIZE", &cfg.WorkerPoolSize); err != nil {
		return Config{}, err
	}
	if err := intVar(getenv, "MAX_CONNECTIONS", &cfg.MaxConnections); err != nil {
		return Config{}, err
	}
	if err := durationVar(getenv, "READ_TIMEOUT", &cfg.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := durationVar(getenv, "WRITE_TIMEOUT", &cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := durationVar(getenv, "REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if v := getenv("DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	cfg.RedisAddr = getenv("REDIS_ADDR")
	cfg.NATSURL = getenv("NATS_URL")
	if v := getenv("SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := getenv("MODERATORS"); v != "" {
		cfg.Moderators = splitList(v)
	}
	if v := getenv("PASSWORD_SCHEME"); v != "" {
		cfg.PasswordScheme = strings.ToLower(v)
	}
	cfg.ContentFilter = getenv("CONTENT_FILTER") == "1"
	if v := getenv("BLOCKED_TERMS"); v != "" {
		cfg.BlockedTerms = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.LogDev = getenv("LOG_DEV") == "1"

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.DBDriver != "sqlite3" && c.DBDriver != "postgres":
		return fmt.Errorf("config: DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver)
	case c.PasswordScheme != "bcrypt" && c.PasswordScheme != "plaintext":
		return fmt.Errorf("config: PASSWORD_SCHEME must be bcrypt or plaintext, got %q", c.PasswordScheme)
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive")
	case c.MaxConnections <= 0:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("config: REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intVar(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func durationVar(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
