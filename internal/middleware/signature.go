package middleware

import (
	"bytes"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/payment"
)

const maxWebhookBody = 64 << 10

// PaymentSignature authenticates provider webhooks by the HMAC-SHA256 of
// the raw body in X-Signature. The body is restored for the handler.
func PaymentSignature(secret []byte, lg *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			sig := req.Header.Get(payment.SignatureHeader)
			if sig == "" || len(secret) == 0 {
				return reject(c, lg, "missing signature or secret")
			}
			body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
			_ = req.Body.Close()
			if err != nil {
				return reject(c, lg, "failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			if !payment.Verify(secret, body, sig) {
				return reject(c, lg, "invalid webhook signature")
			}
			metrics.IncGate("signature", "allowed")
			return next(c)
		}
	}
}

func reject(c echo.Context, lg *logger.Logger, reason string) error {
	metrics.IncGate("signature", "denied")
	if lg != nil {
		lg.Warn("payment webhook verification failed",
			"reason", reason,
			"path", c.Path(),
			"ip", logger.Mask(c.RealIP()),
		)
	}
	return apperr.AuthenticationRequired()
}
