package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/middleware"
)

type rejectReq struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Approve moves a Pending booking to Approved. Repeating it is a no-op.
// The service audits every decision it receives.
func (h *BookingHandler) Approve(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	middleware.MarkAudited(c)
	b, err := h.Svc.Approve(ctx, middleware.Principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking.NewView(b))
}

func (h *BookingHandler) Reject(c echo.Context) error {
	var req rejectReq
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	middleware.MarkAudited(c)
	b, err := h.Svc.Reject(ctx, middleware.Principal(c), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking.NewView(b))
}
