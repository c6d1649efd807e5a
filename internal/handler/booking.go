package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/middleware"
)

// BookingHandler serves the owner-facing booking endpoints.
type BookingHandler struct {
	Svc     *booking.Service
	Timeout time.Duration
}

func NewBookingHandler(svc *booking.Service, timeout time.Duration) *BookingHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BookingHandler{Svc: svc, Timeout: timeout}
}

type createBookingReq struct {
	TourID           string `json:"tour_id" validate:"required,max=64"`
	Travelers        int    `json:"travelers" validate:"required,min=1,max=50"`
	TotalAmountCents int64  `json:"total_amount_cents" validate:"min=0"`
	Currency         string `json:"currency" validate:"required,len=3"`
	SelectedDate     string `json:"selected_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *BookingHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Create opens a Pending/Unpaid booking owned by the caller.
func (h *BookingHandler) Create(c echo.Context) error {
	var req createBookingReq
	if err := bind(c, &req); err != nil {
		return err
	}
	in := booking.CreateInput{
		TourID:           strings.TrimSpace(req.TourID),
		Travelers:        req.Travelers,
		TotalAmountCents: req.TotalAmountCents,
		Currency:         req.Currency,
	}
	if req.SelectedDate != "" {
		d, err := time.Parse("2006-01-02", req.SelectedDate)
		if err != nil {
			return apperr.InvalidInput("selected_date must be YYYY-MM-DD")
		}
		in.SelectedDate = &d
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	b, err := h.Svc.Create(ctx, middleware.Principal(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, booking.NewView(b))
}

// ListMine returns the caller's bookings, newest first.
func (h *BookingHandler) ListMine(c echo.Context) error {
	limit := booking.DefaultListLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return apperr.InvalidInput("limit must be a positive integer")
		}
		limit = n
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	bs, err := h.Svc.ListMine(ctx, middleware.Principal(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": booking.NewViews(bs)})
}

func (h *BookingHandler) Get(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	b, err := h.Svc.Get(ctx, middleware.Principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking.NewView(b))
}

// Cancel is open to the owner and to Moderator+.
func (h *BookingHandler) Cancel(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	b, err := h.Svc.Cancel(ctx, middleware.Principal(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, booking.NewView(b))
}
