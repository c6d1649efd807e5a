// Package router wires handlers to paths and applies the gate chain:
// Identify, RateLimit, RequireAuth, CSRF, RequireRole, in that order.
package router

import (
	"net"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/handler"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/middleware"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/ratelimit"
)

// Deps are the gates shared by every route group.
type Deps struct {
	JWTSecret string
	Sec       config.SecurityConfig
	RateLimit config.RateLimitConfig
	Limiter   *ratelimit.Limiter
	CSRF      *csrf.Guard
	Audit     middleware.Auditor
	Log       *logger.Logger
}

func (d Deps) limit(op string) echo.MiddlewareFunc {
	return middleware.RateLimit(d.Limiter, d.RateLimit, op, d.Audit, d.Log)
}

func (d Deps) csrf() echo.MiddlewareFunc {
	return middleware.CSRF(d.CSRF, d.Audit, d.Log)
}

func (d Deps) role(min model.Role) echo.MiddlewareFunc {
	return middleware.RequireRole(min, d.Audit, d.Log)
}

func (d Deps) auditCall(action audit.Action) echo.MiddlewareFunc {
	return middleware.AuditEveryCall(action, d.Audit, d.Log)
}

// Configure installs the error renderer, request validator and the global
// middleware every route runs behind.
func Configure(e *echo.Echo, d Deps) {
	e.HideBanner = true
	e.IPExtractor = clientIPExtractor(d.Sec.TrustedProxies, d.Log)
	e.HTTPErrorHandler = middleware.ErrorHandler(d.Log)
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(accessLog(d.Log))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.Identify(d.JWTSecret, d.Sec.AccessCookieName))
}

// clientIPExtractor honours X-Forwarded-For only when the peer is one of the
// trusted proxies. With none configured the socket address is the client.
func clientIPExtractor(proxies []string, lg *logger.Logger) echo.IPExtractor {
	if lg == nil {
		lg = logger.Discard()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	trusted := 0
	for _, p := range proxies {
		ipnet, ok := parseProxy(p)
		if !ok {
			lg.Warn("ignoring invalid trusted proxy", "value", p)
			continue
		}
		opts = append(opts, echo.TrustIPRange(ipnet))
		trusted++
	}
	if trusted == 0 {
		return echo.ExtractIPDirect()
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func parseProxy(s string) (*net.IPNet, bool) {
	if _, ipnet, err := net.ParseCIDR(s); err == nil {
		return ipnet, true
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, false
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, true
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, true
}

func accessLog(lg *logger.Logger) echo.MiddlewareFunc {
	if lg == nil {
		lg = logger.Discard()
	}
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			lg.Info("request",
				"method", v.Method,
				"path", v.URIPath,
				"route", v.RoutePath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"ip", logger.Mask(v.RemoteIP),
				"request_id", v.RequestID,
			)
			return nil
		},
	})
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers session endpoints and the CSRF token issuer.
func RegisterAuth(e *echo.Echo, d Deps, a *handler.AuthHandler, c *handler.CSRFHandler) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, d.limit(config.OpRegister))
	g.POST("/login", a.Login, d.limit(config.OpLogin))
	g.POST("/refresh", a.Refresh, d.limit(config.OpRefresh))
	g.POST("/logout", a.Logout, d.limit(config.OpDefault), middleware.RequireAuth(), d.csrf())

	e.GET("/v1/me", a.Me, d.limit(config.OpDefault), middleware.RequireAuth())
	e.GET("/v1/csrf", c.Issue, d.limit(config.OpCSRFIssue), middleware.RequireAuth())
}
