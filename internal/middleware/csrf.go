package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
)

const maxTokenBody = 1 << 20

// CSRF verifies the session's anti-forgery token on state-changing browser
// requests. Safe methods and bearer-only API clients pass through.
func CSRF(g *csrf.Guard, a Auditor, lg *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isSafeMethod(c.Request().Method) || !BrowserOriginated(c) {
				return next(c)
			}
			p := Principal(c)
			err := g.Verify(c.Request().Context(), p.SessionID, suppliedToken(c))
			if err != nil {
				if apperr.Is(err, apperr.KindInvalidCsrf) {
					metrics.IncGate("csrf", "denied")
					if lg != nil {
						lg.Warn("csrf rejected", "route", c.Path(), "ip", logger.Mask(c.RealIP()), "reason", apperr.As(err).Message)
					}
					recordGate(c, a, lg, audit.ActionCsrfRejected, nil)
				} else {
					metrics.IncGate("csrf", "error")
				}
				return err
			}
			metrics.IncGate("csrf", "allowed")
			return next(c)
		}
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// suppliedToken looks in the header, then a form field, then a JSON body
// field. The body is restored for the handler.
func suppliedToken(c echo.Context) string {
	if v := c.Request().Header.Get(csrf.HeaderName); v != "" {
		return v
	}
	req := c.Request()
	ct := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ct, echo.MIMEApplicationForm), strings.HasPrefix(ct, echo.MIMEMultipartForm):
		return c.FormValue(csrf.FieldName)
	case strings.HasPrefix(ct, echo.MIMEApplicationJSON) && req.Body != nil:
		body, err := io.ReadAll(io.LimitReader(req.Body, maxTokenBody))
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return ""
		}
		var v struct {
			Token string `json:"csrf_token"`
		}
		if json.Unmarshal(body, &v) == nil {
			return v.Token
		}
	}
	return ""
}
