// Package router registers the HTTP routes of the seat API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seatgrid/internal/handler"
)

// Routes bundles the handlers mounted by RegisterRoutes.
type Routes struct {
	Seats  *handler.SeatHandler
	Stream *handler.StreamHandler
	Store  handler.Pinger
	// Limit guards the mutating endpoints.  Nil means unlimited.
	Limit echo.MiddlewareFunc
}

// RegisterRoutes mounts the health checks, the seat API under /api and
// the event stream.
func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/", handler.Root)
	e.GET("/healthz", handler.Health(r.Store))

	api := e.Group("/api")
	api.GET("/seats", r.Seats.ListSeats)
	api.GET("/seats/:id", r.Seats.GetSeat)
	api.GET("/my-holds/:userId", r.Seats.ListHolds)
	api.GET("/events", r.Stream.Events)

	var limited []echo.MiddlewareFunc
	if r.Limit != nil {
		limited = append(limited, r.Limit)
	}
	api.POST("/layout", r.Seats.GenerateLayout, limited...)
	api.POST("/hold", r.Seats.Hold, limited...)
	api.POST("/release", r.Seats.Release, limited...)
	api.POST("/book", r.Seats.Book, limited...)
}
