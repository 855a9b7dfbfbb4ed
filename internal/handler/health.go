package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Root answers GET / with a plain banner.
func Root(c echo.Context) error {
	return c.String(http.StatusOK, "Seat Booking Backend Running")
}

// Health returns a health-check handler used by load balancers and
// monitoring.  It answers "ok" only when the seat store responds to a
// ping.
func Health(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
		}
		return c.String(http.StatusOK, "ok")
	}
}
