package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/models"
)

// MaxUploadSize caps the size of an uploaded image.
const MaxUploadSize = 20 << 20

type sendRequest struct {
	Message string `json:"message" validate:"required"`
}

type moveRequest struct {
	ImageID string `json:"image_id" validate:"required"`
	Action  string `json:"action" validate:"required,oneof=archive unarchive"`
}

type deleteImageRequest struct {
	ImageID string `json:"image_id" validate:"required"`
}

type deleteResponseRequest struct {
	ResponseID string `json:"response_id" validate:"required"`
}

type captureResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	CaptureID string `json:"capture_id"`
}

type sendResult struct {
	Status     string         `json:"status"`
	Response   map[string]any `json:"response"`
	ResponseID string         `json:"response_id"`
}

type statusResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func (h *handler) capture(c echo.Context) error {
	id, err := h.Captures.Capture(c.Request().Context())
	if err != nil {
		status, msg := statusFor(err)
		return c.JSON(status, errorBody{Status: statusError, Error: msg, Message: msg})
	}
	return c.JSON(http.StatusOK, captureResult{
		Status:    statusSuccess,
		Message:   fmt.Sprintf("Video frame captured and saved with ID: %s", id),
		CaptureID: id,
	})
}

func (h *handler) uploadImage(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to get uploaded file")
	}
	if file.Size > MaxUploadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Uploaded file is too large")
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			h.Logger.Error("failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize))
	if err != nil {
		return fmt.Errorf("read uploaded file: %w", err)
	}

	id, err := h.Captures.Upload(c.Request().Context(), file.Filename, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, captureResult{
		Status:    statusSuccess,
		Message:   fmt.Sprintf("Image uploaded and saved with ID: %s", id),
		CaptureID: id,
	})
}

func (h *handler) sendRequest(c echo.Context) error {
	var req sendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing 'message' in request body")
	}

	res, err := h.Inference.Send(c.Request().Context(), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sendResult{
		Status:     statusSuccess,
		Response:   res.Completion,
		ResponseID: res.ResponseID,
	})
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}

func (h *handler) recentCaptures(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	captures, err := h.Store.ListRecentCaptures(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(captures))
}

func (h *handler) archivedCaptures(c echo.Context) error {
	captures, err := h.Store.ListArchivedCaptures(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(captures))
}

func (h *handler) recentResponses(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	responses, err := h.Store.ListRecentResponses(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	for i := range responses {
		if responses[i].CaptureIDs == nil {
			responses[i].CaptureIDs = []string{}
		}
		if responses[i].ResponseData == nil {
			responses[i].ResponseData = map[string]any{}
		}
	}
	h.Logger.Info("retrieved recent responses", "count", len(responses))
	return c.JSON(http.StatusOK, nonNil(responses))
}

func (h *handler) captureImage(c echo.Context) error {
	capture, err := h.Store.GetCapture(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	data, err := capture.Bytes()
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, capture.MimeType(), data)
}

func (h *handler) captureThumbnail(c echo.Context) error {
	width := DefaultThumbnailWidth
	if raw := c.QueryParam("width"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxThumbnailWidth {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("width must be between 1 and %d", MaxThumbnailWidth))
		}
		width = n
	}

	capture, err := h.Store.GetCapture(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	data, err := capture.Bytes()
	if err != nil {
		return err
	}
	thumb, err := Thumbnail(data, width)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", thumb)
}

func (h *handler) response(c echo.Context) error {
	resp, err := h.Store.GetResponse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// moveImage archives or unarchives a capture. Beyond 200/400/500 it answers
// 404 when the capture does not exist and 409 when it is already there.
func (h *handler) moveImage(c echo.Context) error {
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.ImageID == "" || req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing required fields")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid action")
	}

	ctx := c.Request().Context()
	h.Logger.Info("moving image", "image_id", req.ImageID, "action", req.Action)

	var (
		ok  bool
		err error
	)
	if req.Action == "archive" {
		ok, err = h.Store.ArchiveCapture(ctx, req.ImageID)
	} else {
		ok, err = h.Store.UnarchiveCapture(ctx, req.ImageID)
	}
	if err != nil {
		return err
	}
	if !ok {
		// Nothing changed: either the capture is gone or already there.
		if _, err := h.Store.GetCapture(ctx, req.ImageID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "Image not found")
			}
			return err
		}
		return fmt.Errorf("%w: image already %sd", errConflict, req.Action)
	}

	return c.JSON(http.StatusOK, statusResult{Status: statusSuccess, Message: "Image " + req.Action + "d"})
}

func (h *handler) deleteImage(c echo.Context) error {
	var req deleteImageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing required fields")
	}

	ok, err := h.Store.DeleteCapture(c.Request().Context(), req.ImageID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Image not found")
	}
	return c.JSON(http.StatusOK, statusResult{Status: statusSuccess})
}

func (h *handler) deleteResponse(c echo.Context) error {
	var req deleteResponseRequest
	if err := bindAndValidate(c, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing response_id")
	}

	ok, err := h.Store.DeleteResponse(c.Request().Context(), req.ResponseID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Response not found")
	}
	return c.JSON(http.StatusOK, statusResult{Status: statusSuccess})
}

func nonNil[T models.Capture | models.Response](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
