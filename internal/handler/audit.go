package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
)

type AuditHandler struct {
	Log *audit.Log
}

func NewAuditHandler(l *audit.Log) *AuditHandler { return &AuditHandler{Log: l} }

// Export pages through the audit log in (timestamp, seq) order. Pass
// next_since and next_seq from the previous page as since and after_seq to
// continue.
func (h *AuditHandler) Export(c echo.Context) error {
	var after audit.Cursor
	if s := c.QueryParam("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return apperr.InvalidInput("since must be RFC3339")
		}
		after.Since = t
	}
	if s := c.QueryParam("after_seq"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return apperr.InvalidInput("after_seq must be a non-negative integer")
		}
		after.Seq = n
	}
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return apperr.InvalidInput("limit must be a positive integer")
		}
		limit = n
	}

	entries, err := h.Log.Export(c.Request().Context(), after, limit)
	if err != nil {
		return apperr.Unavailable(err, "audit store")
	}
	resp := echo.Map{"entries": entries}
	if n := len(entries); n > 0 {
		next := audit.CursorAfter(entries[n-1])
		resp["next_since"] = next.Since.Format(time.RFC3339Nano)
		resp["next_seq"] = next.Seq
	}
	return c.JSON(http.StatusOK, resp)
}
