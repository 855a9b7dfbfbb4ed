package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seatgrid/internal/notify"
)

// DefaultHeartbeat is the interval between keep-alive comments on an idle
// event stream.
const DefaultHeartbeat = 15 * time.Second

// StreamHandler serves the change notifier as Server-Sent Events.  There
// is no replay: a client subscribes first and then loads GET /api/seats,
// so nothing committed after the load is missed.  A client that falls
// behind loses events and should reload.
type StreamHandler struct {
	Bus       *notify.Bus
	Heartbeat time.Duration
	Buffer    int
	Logger    *slog.Logger
}

// NewStreamHandler returns a stream handler over bus.
func NewStreamHandler(bus *notify.Bus, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StreamHandler{
		Bus:       bus,
		Heartbeat: DefaultHeartbeat,
		Logger:    logger.With("component", "stream"),
	}
}

// Events handles GET /api/events.
func (h *StreamHandler) Events(c echo.Context) error {
	sub := h.Bus.Subscribe(h.Buffer)
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	w.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				h.Logger.Info("stream closed with dropped events", "subscriber", sub.ID, "dropped", n)
			}
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
