package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seatgrid/internal/model"
	"github.com/iliyamo/seatgrid/internal/reservation"
)

// SeatHandler exposes the reservation engine over JSON.  Conflicts map to
// 409 with the engine's message, validation failures to 400, and every
// infrastructure failure to a bare 500 so storage details never reach the
// client.
type SeatHandler struct {
	Engine *reservation.Engine
	Logger *slog.Logger
}

// NewSeatHandler constructs a SeatHandler.  engine must be non-nil.
func NewSeatHandler(engine *reservation.Engine, logger *slog.Logger) *SeatHandler {
	if engine == nil {
		panic("nil engine passed to NewSeatHandler")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SeatHandler{Engine: engine, Logger: logger.With("component", "handler")}
}

type layoutRequest struct {
	Rows *int `json:"rows"`
	Cols *int `json:"cols"`
}

type seatRequest struct {
	SeatID string `json:"seatId"`
	UserID string `json:"userId"`
}

type bookRequest struct {
	SeatIDs []string `json:"seatIds"`
	UserID  string   `json:"userId"`
}

// GenerateLayout handles POST /api/layout.  Omitted dimensions default to
// a 5x8 grid.
func (h *SeatHandler) GenerateLayout(c echo.Context) error {
	var body layoutRequest
	if err := bindOptional(c, &body); err != nil {
		return badRequest(c, "invalid request body")
	}
	rows, cols := model.DefaultRows, model.DefaultCols
	if body.Rows != nil {
		rows = *body.Rows
	}
	if body.Cols != nil {
		cols = *body.Cols
	}
	layout, err := h.Engine.GenerateLayout(c.Request().Context(), rows, cols)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "rows": layout.Rows, "cols": layout.Cols})
}

// ListSeats handles GET /api/seats.
func (h *SeatHandler) ListSeats(c echo.Context) error {
	seats, err := h.Engine.ListSeats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": seats})
}

// GetSeat handles GET /api/seats/:id.
func (h *SeatHandler) GetSeat(c echo.Context) error {
	seat, err := h.Engine.GetSeat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seat": seat})
}

// Hold handles POST /api/hold.
func (h *SeatHandler) Hold(c echo.Context) error {
	var body seatRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	seat, err := h.Engine.Hold(c.Request().Context(), body.SeatID, body.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "seat": seat})
}

// Release handles POST /api/release.
func (h *SeatHandler) Release(c echo.Context) error {
	var body seatRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	seat, err := h.Engine.Release(c.Request().Context(), body.SeatID, body.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "seat": seat})
}

// Book handles POST /api/book.  Either every listed seat is booked or
// none is.
func (h *SeatHandler) Book(c echo.Context) error {
	var body bookRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	seats, err := h.Engine.Book(c.Request().Context(), body.SeatIDs, body.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "seats": seats})
}

// ListHolds handles GET /api/my-holds/:userId.
func (h *SeatHandler) ListHolds(c echo.Context) error {
	seats, err := h.Engine.ListHoldsByUser(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": seats})
}

// fail maps an engine error to a response.
func (h *SeatHandler) fail(c echo.Context, err error) error {
	var (
		verr *reservation.ValidationError
		cerr *reservation.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return badRequest(c, verr.Error())
	case errors.As(err, &cerr):
		return c.JSON(http.StatusConflict, echo.Map{"error": cerr.Message})
	case errors.Is(err, reservation.ErrSeatNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	default:
		h.Logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// bindOptional binds a JSON body that may be absent entirely.
func bindOptional(c echo.Context, dst any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	return c.Bind(dst)
}
