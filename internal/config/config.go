// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds the required runtime settings. Missing values stop the
// process at startup.
type Config struct {
	Env            string // dev, test, prod
	Port           string
	DBUser         string
	DBPass         string // may be empty
	DBHost         string
	DBPort         string
	DBName         string
	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int

	LogLevel  string
	LogFormat string
	// AllowLocalStores permits per-process rate-limit, lockout and CSRF
	// stores in prod. Limits are only effective across instances when the
	// stores are shared, so this is off by default.
	AllowLocalStores bool
	// AutoMigrate applies the schema on startup.
	AutoMigrate bool
}

// Load reads the environment. Required variables go through must().
func Load() Config {
	return Config{
		Env:              must("APP_ENV"),
		Port:             must("APP_PORT"),
		DBUser:           must("DB_USER"),
		DBPass:           os.Getenv("DB_PASS"),
		DBHost:           must("DB_HOST"),
		DBPort:           must("DB_PORT"),
		DBName:           must("DB_NAME"),
		JWTSecret:        must("JWT_SECRET"),
		AccessTTLMin:     mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays:   mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:       mustInt("BCRYPT_COST"),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogFormat:        envStr("LOG_FORMAT", "json"),
		AllowLocalStores: envBool("ALLOW_LOCAL_STORES", false),
		AutoMigrate:      envBool("DB_AUTO_MIGRATE", true),
	}
}

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is must() followed by an integer conversion.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
