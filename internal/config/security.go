package config

import (
	"time"

	"github.com/iliyamo/travel-booking/internal/lockout"
)

// SecurityConfig gathers the policy constants of the request gates.
type SecurityConfig struct {
	CSRFTTL          time.Duration
	CookieSecure     bool
	AccessCookieName string

	// TrustedProxies are the CIDRs (or bare IPs) allowed to set
	// X-Forwarded-For. Empty means the socket peer is the client.
	TrustedProxies []string

	Lockout lockout.Policy

	// StoreTimeout bounds every round-trip to the rate-limit, lockout and
	// CSRF stores.
	StoreTimeout time.Duration
	// RequestTimeout bounds database work per request.
	RequestTimeout time.Duration

	WebhookSecret  string
	PaymentBaseURL string
	PaymentTimeout time.Duration
}

func LoadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		CSRFTTL:          envDur("CSRF_TOKEN_TTL", time.Hour),
		CookieSecure:     envBool("COOKIE_SECURE", true),
		AccessCookieName: envStr("ACCESS_COOKIE_NAME", "access_token"),
		TrustedProxies:   envList("TRUSTED_PROXIES"),
		Lockout: lockout.Policy{
			Threshold:   envInt("LOCKOUT_THRESHOLD", lockout.DefaultThreshold),
			BaseLockout: envDur("LOCKOUT_BASE", lockout.DefaultBaseLockout),
			MaxLockout:  envDur("LOCKOUT_MAX", lockout.DefaultMaxLockout),
			Retention:   envDur("LOCKOUT_RETENTION", lockout.DefaultRetention),
		},
		StoreTimeout:   envDur("STORE_TIMEOUT", 2*time.Second),
		RequestTimeout: envDur("REQUEST_TIMEOUT", 5*time.Second),
		WebhookSecret:  envStr("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentBaseURL: envStr("PAYMENT_BASE_URL", ""),
		PaymentTimeout: envDur("PAYMENT_TIMEOUT", 10*time.Second),
	}
}
