package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const loggerContextKey = "logger"

// FromContext returns the request-scoped logger stamped with the
// request id, or a no-op logger outside the middleware chain.
func FromContext(c echo.Context) zerolog.Logger {
	if l, ok := c.Get(loggerContextKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// Logger emits one line per request and stores a request-scoped
// logger in the context so handlers log under the same request id.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			reqLog := logger.With().Str("request_id", rid).Logger()
			c.Set(loggerContextKey, reqLog)

			err := next(c)

			evt := reqLog.Info()
			if err != nil {
				evt = reqLog.Error().Err(err)
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
