package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/handler"
	"github.com/iliyamo/travel-booking/internal/middleware"
	"github.com/iliyamo/travel-booking/internal/model"
)

// RegisterBookings registers owner-facing booking endpoints. Reads and
// cancellation check ownership inside the service; creation needs User+.
func RegisterBookings(e *echo.Echo, d Deps, h *handler.BookingHandler) {
	g := e.Group("/v1/bookings")
	g.POST("", h.Create,
		d.limit(config.OpBookingCreate), middleware.RequireAuth(), d.csrf(), d.role(model.RoleUser))
	g.GET("", h.ListMine, d.limit(config.OpDefault), middleware.RequireAuth())
	g.GET("/:id", h.Get, d.limit(config.OpDefault), middleware.RequireAuth())
	g.POST("/:id/cancel", h.Cancel,
		d.limit(config.OpBookingMutate), middleware.RequireAuth(), d.csrf())
}

// RegisterAdmin registers staff endpoints: booking decisions for
// Moderator+ and the audit export for Admin. Every decision call leaves an
// audit entry, including ones no gate or handler got to record.
func RegisterAdmin(e *echo.Echo, d Deps, h *handler.BookingHandler, a *handler.AuditHandler) {
	g := e.Group("/v1/admin")
	g.POST("/bookings/:id/approve", h.Approve, d.auditCall(audit.ActionBookingApproved),
		d.limit(config.OpAdminDecision), middleware.RequireAuth(), d.csrf(), d.role(model.RoleModerator))
	g.POST("/bookings/:id/reject", h.Reject, d.auditCall(audit.ActionBookingRejected),
		d.limit(config.OpAdminDecision), middleware.RequireAuth(), d.csrf(), d.role(model.RoleModerator))
	g.GET("/audit", a.Export,
		d.limit(config.OpDefault), middleware.RequireAuth(), d.role(model.RoleAdmin))
}

// RegisterWebhooks registers provider callbacks. They authenticate by body
// signature and are exempt from CSRF.
func RegisterWebhooks(e *echo.Echo, d Deps, h *handler.BookingHandler) {
	e.POST("/v1/webhooks/payments", h.PaymentWebhook,
		d.limit(config.OpWebhook), middleware.PaymentSignature([]byte(d.Sec.WebhookSecret), d.Log))
}
