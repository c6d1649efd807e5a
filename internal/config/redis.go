package config

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the server holding the shared rate-limit buckets,
// lockout records and CSRF tokens.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	TLS          bool
	TLSInsecure  bool
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoadRedisConfig reads REDIS_HOST and REDIS_PORT (or REDIS_ADDR as
// host:port), REDIS_PASSWORD, REDIS_DB, REDIS_TLS, REDIS_TLS_INSECURE and
// the REDIS_*_TIMEOUT durations.
func LoadRedisConfig() RedisConfig {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Addr:        addr,
		Password:    envStr("REDIS_PASSWORD", ""),
		DB:          envInt("REDIS_DB", 0),
		TLS:         envBool("REDIS_TLS", false),
		TLSInsecure: envBool("REDIS_TLS_INSECURE", false),
		// fail fast so gate checks surface as 503 instead of hanging
		DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  envDur("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", time.Second),
	}
}

// Options converts the config into go-redis client options.
func (c RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSInsecure}
	}
	return opts
}

// NewRedisClient connects and pings. It returns nil when the server cannot
// be reached; the caller decides whether process-local stores are
// acceptable.
func NewRedisClient(c RedisConfig) *redis.Client {
	client := redis.NewClient(c.Options())
	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
