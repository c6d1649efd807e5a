package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/model"
)

// Context keys set by Identify.
const (
	ctxPrincipal = "principal"
	ctxViaCookie = "auth_via_cookie"
)

// Auditor records gate decisions. *audit.Log satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Principal returns the caller resolved by Identify, or the anonymous
// principal.
func Principal(c echo.Context) model.Principal {
	if p, ok := c.Get(ctxPrincipal).(model.Principal); ok {
		return p
	}
	return model.Anonymous()
}

func setPrincipal(c echo.Context, p model.Principal, viaCookie bool) {
	c.Set(ctxPrincipal, p)
	c.Set(ctxViaCookie, viaCookie)
}

// BrowserOriginated reports whether the request came from a browser and so
// needs a CSRF token: it was authenticated by cookie, or it carries the
// Origin or Sec-Fetch-Site headers browsers attach.
func BrowserOriginated(c echo.Context) bool {
	if v, _ := c.Get(ctxViaCookie).(bool); v {
		return true
	}
	h := c.Request().Header
	return h.Get(echo.HeaderOrigin) != "" || h.Get("Sec-Fetch-Site") != ""
}

// recordGate writes a denied gate decision to the audit log. Failures are
// logged only; the request is already being rejected.
func recordGate(c echo.Context, a Auditor, lg *logger.Logger, action audit.Action, md map[string]string) {
	if a == nil {
		return
	}
	MarkAudited(c)
	if md == nil {
		md = map[string]string{}
	}
	md["route"] = c.Request().Method + " " + c.Path()
	md["ip"] = c.RealIP()
	_, err := a.Record(c.Request().Context(), audit.Entry{
		Actor:    Principal(c).Actor(),
		Action:   action,
		Target:   c.Param("id"),
		Outcome:  audit.OutcomeDenied,
		Metadata: md,
	})
	if err != nil && lg != nil {
		lg.Error("gate audit failed", "action", action, "err", err)
	}
}
