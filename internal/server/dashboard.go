package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/observer/internal/logtail"
)

func (h *handler) stats(c echo.Context) error {
	stats, err := h.Dashboard.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *handler) systemInfo(c echo.Context) error {
	info, err := h.Dashboard.SystemInfo(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (h *handler) listRoutes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.routes)
}

// logs returns the tail of the log file as plain text, oldest line first
// unless ?order=newest.
func (h *handler) logs(c echo.Context) error {
	order := c.QueryParam("order")
	if order != "" && order != "oldest" && order != "newest" {
		return echo.NewHTTPError(http.StatusBadRequest, "order must be oldest or newest")
	}

	lines, err := logtail.Tail(h.LogFile, logtail.DefaultLines)
	if errors.Is(err, logtail.ErrNoLogs) {
		return c.String(http.StatusNotFound, "No logs available")
	}
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	if order == "newest" {
		lines = logtail.Reverse(lines)
	}
	return c.String(http.StatusOK, strings.Join(lines, "\n"))
}
