/*
Package config loads server configuration from the environment.

PURPOSE:
  One flat Config struct read once at startup. A .env file in the working
  directory is loaded first when present (local development); real
  environment variables always win.
*/
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the server's runtime configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int

	// DBPath is the SQLite database path; ":memory:" for ephemeral runs.
	DBPath string

	// RedisAddr enables the distributed lock manager when set
	// ("localhost:6379"). Empty disables Redis; locking degrades to the
	// database row locks.
	RedisAddr string

	// JWTSecret signs and verifies bearer tokens. Empty runs the API in
	// dev mode with no authentication.
	JWTSecret string

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string
}

// Load reads configuration from .env (if present) and the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:      envInt("PORT", 8080),
		DBPath:    envString("DB_PATH", "cashflow.db"),
		RedisAddr: envString("REDIS_ADDR", ""),
		JWTSecret: envString("JWT_SECRET", ""),
		LogLevel:  envString("LOG_LEVEL", "info"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
