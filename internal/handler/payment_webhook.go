package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/model"
)

const (
	EventDepositPaid = "deposit_paid"
	EventPaidInFull  = "paid_in_full"
)

type paymentEventReq struct {
	BookingID string `json:"booking_id" validate:"required,max=64"`
	Event     string `json:"event" validate:"required,oneof=deposit_paid paid_in_full"`
}

// PaymentWebhook applies provider payment confirmations. Duplicate or
// out-of-order deliveries are no-ops, so the provider may retry freely.
func (h *BookingHandler) PaymentWebhook(c echo.Context) error {
	var req paymentEventReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	var (
		b   *model.Booking
		err error
	)
	if req.Event == EventDepositPaid {
		b, err = h.Svc.RecordDeposit(ctx, req.BookingID)
	} else {
		b, err = h.Svc.RecordFullPayment(ctx, req.BookingID)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking_id":     b.ID,
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
	})
}

