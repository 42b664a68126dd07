package server

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// maxQueryLogLen is the maximum length for logged query strings before truncation.
const maxQueryLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 2 * time.Second

// RequestLogger returns middleware that logs every request with timing.
// Server errors are logged at ERROR, slow requests (>2s) at WARN and the
// rest at INFO. Query strings are truncated to 200 characters.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Let the error handler write the response so the status is final.
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			duration := time.Since(start)
			req := c.Request()
			status := c.Response().Status

			attrs := []any{
				"method", req.Method,
				"route", c.Path(),
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"remote_ip", c.RealIP(),
			}
			if q := req.URL.RawQuery; q != "" {
				attrs = append(attrs, "query", truncate(q, maxQueryLogLen))
			}

			switch {
			case status >= 500:
				if err != nil {
					attrs = append(attrs, "error", err.Error())
				}
				logger.Error("request failed", attrs...)
			case duration > slowRequestThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
			return nil
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
