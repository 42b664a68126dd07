package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/logtail"
	"github.com/raphaelgruber/observer/internal/service"
)

// errConflict marks a state change that had nothing to do.
var errConflict = errors.New("conflict")

const (
	statusSuccess = "success"
	statusError   = "error"
)

// errorBody is the JSON body of every failed API request.
type errorBody struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor maps an error to its HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, db.ErrInvalidID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, db.ErrNotFound), errors.Is(err, logtail.ErrNoLogs):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType, err.Error()
	default:
		// storage, upstream and device failures
		return http.StatusInternalServerError, err.Error()
	}
}

// errorHandler renders handler errors as JSON.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := statusFor(err)
		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(status)
		} else {
			sendErr = c.JSON(status, errorBody{Status: statusError, Error: msg})
		}
		if sendErr != nil {
			logger.Error("failed to write error response", "error", sendErr)
		}
	}
}
