package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness plus reachability of MySQL and Redis.
// Either may be nil when the process runs with local stores.
type HealthHandler struct {
	DB    *sql.DB
	Redis *redis.Client
}

func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{DB: db, Redis: rdb}
}

func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	status := http.StatusOK
	if h.DB != nil {
		checks["mysql"] = "ok"
		if err := h.DB.PingContext(ctx); err != nil {
			checks["mysql"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		}
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	return c.JSON(status, echo.Map{"status": state, "checks": checks})
}
