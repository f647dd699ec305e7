/*
config.go - Server configuration

PURPOSE:
  Collects process-wide settings from flags, environment variables and an
  optional .env file. Flags win over the environment, which wins over the
  defaults.

SETTINGS:
  -port        / PORT              HTTP port (default 8080)
  -db          / DB_PATH           SQLite path, ":memory:" allowed (default tips.db)
  -log-level   / LOG_LEVEL         debug, info, warn, error (default info)
  -sweep       / AUTO_CLOSE_SWEEP  auto-close safety sweep interval, 0 disables (default 1m)
  -rate-limit  / RATE_LIMIT        API requests per second per client, 0 disables (default 10)
  -rate-burst  / RATE_BURST        burst allowance per client (default 20)
  -env-file                        .env file to load (default .env, missing is fine)

NOT HERE:
  Team settings (period duration, rounding step, ...) are per-team records
  stored with the team, see factory/settings.go.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server's process-wide configuration.
type Config struct {
	Port          int
	DBPath        string
	LogLevel      string
	SweepInterval time.Duration
	RateLimit     float64
	RateBurst     int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:          8080,
		DBPath:        "tips.db",
		LogLevel:      "info",
		SweepInterval: time.Minute,
		RateLimit:     10,
		RateBurst:     20,
	}
}

// Load parses args (without the program name). The .env file is loaded
// first and never overrides variables already present in the environment.
func Load(args []string) (Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (Config, error) {
	envFile := envFileArg(args)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Defaults()
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("AUTO_CLOSE_SWEEP"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("AUTO_CLOSE_SWEEP: %w", err)
		}
		cfg.SweepInterval = d
	}
	if v := getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = f
	}
	if v := getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.RateBurst = n
	}

	flags := flag.NewFlagSet("tip-engine", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.DurationVar(&cfg.SweepInterval, "sweep", cfg.SweepInterval, "auto-close sweep interval, 0 disables")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "API requests per second per client, 0 disables")
	flags.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "API burst per client")
	flags.String("env-file", envFile, ".env file to load")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit %v is negative", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1, got %d", c.RateBurst)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval %s is negative", c.SweepInterval)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// envFileArg finds -env-file ahead of flag parsing, since the file feeds
// the flag defaults.
func envFileArg(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "env-file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ".env"
}
