package middleware

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/ratelimit"
)

// RateLimit counts the request against op's fixed-window policy. A store
// failure rejects the request with 503; limits never fail open.
func RateLimit(l *ratelimit.Limiter, cfg config.RateLimitConfig, op string, a Auditor, lg *logger.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || l == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	policy := cfg.Policy(op)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg.KeyStrategy, c)
			d, err := l.Check(c.Request().Context(), key, op, policy)
			if d.Limit > 0 {
				h := c.Response().Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
			if err != nil {
				if !d.Allowed && d.Limit > 0 {
					metrics.IncGate("ratelimit", "denied")
					if lg != nil {
						lg.Warn("rate limited", "op", op, "key", logger.Mask(key), "retry_after", d.RetryAfter.String())
					}
					// only the first rejection of a window is audited
					if d.Count == d.Limit+1 {
						recordGate(c, a, lg, audit.ActionRateLimited, map[string]string{"op": op})
					}
				} else {
					metrics.IncGate("ratelimit", "error")
				}
				return err
			}
			metrics.IncGate("ratelimit", "allowed")
			return next(c)
		}
	}
}

// RetryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func buildRateKey(strategy string, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := Principal(c).ID
	if uid == "" {
		uid = "anon"
	}
	route := c.Request().Method + " " + c.Path()

	var parts []string
	switch strings.ToLower(strategy) {
	case "ip":
		parts = []string{"ip", ip}
	case "user":
		parts = []string{"user", uid}
	case "ip_route":
		parts = []string{"ip", ip, "route", route}
	case "user_route":
		parts = []string{"user", uid, "route", route}
	default:
		parts = []string{"ip", ip, "user", uid, "route", route}
	}
	return strings.Join(parts, ":")
}
