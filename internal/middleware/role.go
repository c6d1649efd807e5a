package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/access"
	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/model"
)

// RequireRole lets through callers whose role ranks at or above min.
// Denials are audited as AccessDenied.
func RequireRole(min model.Role, a Auditor, lg *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal(c)
			if err := access.AuthorizePrincipal(p, min); err != nil {
				metrics.IncGate("rbac", "denied")
				if apperr.Is(err, apperr.KindForbidden) {
					recordGate(c, a, lg, audit.ActionAccessDenied, map[string]string{
						"role":     p.Role.String(),
						"required": min.String(),
					})
				}
				return err
			}
			metrics.IncGate("rbac", "allowed")
			return next(c)
		}
	}
}
