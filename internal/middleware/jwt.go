package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/utils"
)

// Identify resolves the caller from a Bearer access token or, failing that,
// from the access token cookie. It never rejects: an absent or invalid
// token leaves the request anonymous and RequireAuth decides.
func Identify(secret, cookieName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, viaCookie := bearer(c), false
			if raw == "" && cookieName != "" {
				if ck, err := c.Cookie(cookieName); err == nil && ck.Value != "" {
					raw, viaCookie = ck.Value, true
				}
			}
			p := model.Anonymous()
			if raw != "" {
				if claims, err := utils.ParseAccessToken(secret, raw); err == nil {
					p = claims.Principal()
				}
			}
			setPrincipal(c, p, viaCookie && !p.IsAnonymous())
			return next(c)
		}
	}
}

func bearer(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// RequireAuth rejects anonymous callers with AuthenticationRequired.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if Principal(c).IsAnonymous() {
				return apperr.AuthenticationRequired()
			}
			return next(c)
		}
	}
}
