package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// streamEvents delivers broadcast events to one observer over SSE. Events
// published before the observer connected are not replayed.
func streamEvents(events Broadcaster) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := c.Request().Context()
		ch := events.Subscribe()
		defer events.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ch:
				if _, err := c.Response().Write([]byte("event: " + ev.Name + "\n")); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(ev.Data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
