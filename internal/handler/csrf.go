package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/middleware"
)

type CSRFHandler struct {
	Guard *csrf.Guard
	Sec   config.SecurityConfig
}

func NewCSRFHandler(g *csrf.Guard, sec config.SecurityConfig) *CSRFHandler {
	return &CSRFHandler{Guard: g, Sec: sec}
}

// Issue replaces the session's CSRF token. The value goes out in a cookie,
// the X-CSRF-Token header and the body; clients echo it back on mutations.
func (h *CSRFHandler) Issue(c echo.Context) error {
	p := middleware.Principal(c)
	tok, err := h.Guard.Issue(c.Request().Context(), p.SessionID)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     csrf.FieldName,
		Value:    tok.Value,
		Path:     "/",
		Expires:  tok.ExpiresAt,
		MaxAge:   int(h.Guard.TTL() / time.Second),
		Secure:   h.Sec.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	c.Response().Header().Set(csrf.HeaderName, tok.Value)
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, echo.Map{
		"csrf_token": tok.Value,
		"expires_at": tok.ExpiresAt,
	})
}
