package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/travel-booking/internal/ratelimit"
)

// Operation names used as rate-limit bucket namespaces.
const (
	OpLogin         = "login"
	OpRegister      = "register"
	OpRefresh       = "refresh"
	OpCSRFIssue     = "csrf_issue"
	OpBookingCreate = "booking_create"
	OpBookingMutate = "booking_mutate"
	OpAdminDecision = "admin_decision"
	OpWebhook       = "webhook"
	OpDefault       = "default"
)

type RateLimitConfig struct {
	Enabled bool
	// KeyStrategy picks what identifies a client: ip, user, ip_route or
	// user_route. Anything else keys on ip, user and route together.
	KeyStrategy string
	Policies    map[string]ratelimit.Policy
}

// Policy returns the policy for op, falling back to OpDefault.
func (c RateLimitConfig) Policy(op string) ratelimit.Policy {
	if p, ok := c.Policies[op]; ok {
		return p
	}
	return c.Policies[OpDefault]
}

// LoadRateLimitConfig reads RATE_LIMIT_<OP>_LIMIT and RATE_LIMIT_<OP>_WINDOW
// for each operation.
func LoadRateLimitConfig() RateLimitConfig {
	defaults := map[string]ratelimit.Policy{
		OpLogin:         {Limit: 10, Window: time.Minute},
		OpRegister:      {Limit: 5, Window: time.Hour},
		OpRefresh:       {Limit: 30, Window: time.Minute},
		OpCSRFIssue:     {Limit: 30, Window: time.Minute},
		OpBookingCreate: {Limit: 10, Window: time.Hour},
		OpBookingMutate: {Limit: 30, Window: time.Minute},
		OpAdminDecision: {Limit: 120, Window: time.Minute},
		OpWebhook:       {Limit: 300, Window: time.Minute},
		OpDefault:       {Limit: 60, Window: time.Minute},
	}
	cfg := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Policies:    make(map[string]ratelimit.Policy, len(defaults)),
	}
	for op, def := range defaults {
		name := "RATE_LIMIT_" + strings.ToUpper(op)
		p := ratelimit.Policy{
			Limit:  envInt(name+"_LIMIT", def.Limit),
			Window: envDur(name+"_WINDOW", def.Window),
		}
		if p.Limit < 1 {
			p.Limit = def.Limit
		}
		if p.Window <= 0 {
			p.Window = def.Window
		}
		cfg.Policies[op] = p
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func envList(k string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(k), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
