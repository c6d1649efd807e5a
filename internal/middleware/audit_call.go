package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/logger"
)

const ctxAudited = "audited"

// MarkAudited notes that the request's outcome is written to the audit log
// further down the chain, so AuditEveryCall must not add a second entry.
func MarkAudited(c echo.Context) {
	c.Set(ctxAudited, true)
}

func audited(c echo.Context) bool {
	v, _ := c.Get(ctxAudited).(bool)
	return v
}

// AuditEveryCall guarantees one audit entry per request on the route. Gates
// and handlers that record their own entry call MarkAudited; anything else
// (a repeated rate-limit rejection, an unauthenticated call, a bad body) is
// recorded here once the chain returns. Install it outermost.
func AuditEveryCall(action audit.Action, a Auditor, lg *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if a == nil || audited(c) {
				return err
			}
			md := map[string]string{
				"route": c.Request().Method + " " + c.Path(),
				"ip":    c.RealIP(),
			}
			outcome := audit.OutcomeSuccess
			if err != nil {
				outcome = callOutcome(err)
				md["error"] = string(apperr.KindOf(err))
			}
			_, rerr := a.Record(c.Request().Context(), audit.Entry{
				Actor:    Principal(c).Actor(),
				Action:   action,
				Target:   c.Param("id"),
				Outcome:  outcome,
				Metadata: md,
			})
			if rerr != nil && lg != nil {
				lg.Error("call audit failed", "action", action, "err", rerr)
			}
			return err
		}
	}
}

func callOutcome(err error) audit.Outcome {
	switch apperr.KindOf(err) {
	case apperr.KindAuthenticationRequired, apperr.KindForbidden, apperr.KindNotFound,
		apperr.KindInvalidCsrf, apperr.KindRateLimited, apperr.KindLockedOut:
		return audit.OutcomeDenied
	}
	return audit.OutcomeFailed
}
