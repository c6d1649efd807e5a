package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/logger"
)

// ErrorHandler renders every error as {"error": code, "message": text}.
// Typed errors get their fixed status and public message; RateLimited and
// LockedOut also set Retry-After.
func ErrorHandler(lg *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok && he.Code < 500 {
				msg = s
			}
			writeError(c, he.Code, fmt.Sprintf("HTTP_%d", he.Code), msg)
			return
		}

		e := apperr.As(err)
		status := apperr.Status(e.Kind)
		if (e.Kind == apperr.KindRateLimited || e.Kind == apperr.KindLockedOut) && e.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(e.RetryAfter)))
		}
		if status >= http.StatusInternalServerError && lg != nil {
			lg.Error("request failed", "method", c.Request().Method, "path", c.Path(), "kind", e.Kind, "err", err)
		}
		writeError(c, status, string(e.Kind), apperr.PublicMessage(e))
	}
}

func writeError(c echo.Context, status int, code, msg string) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"error": code, "message": msg})
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
