package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/models"
)

// FrameCapturer delivers one PNG-encoded frame from the capture device.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// CaptureService stores frames from the device and uploaded image files.
type CaptureService struct {
	store  db.Store
	camera FrameCapturer
}

// NewCaptureService creates a new capture service.
func NewCaptureService(store db.Store, camera FrameCapturer) *CaptureService {
	return &CaptureService{store: store, camera: camera}
}

// Capture grabs a frame and saves it as a new recent capture.
func (s *CaptureService) Capture(ctx context.Context) (string, error) {
	slog.Info("starting video capture process")

	frame, err := s.camera.CaptureFrame(ctx)
	if err != nil {
		slog.Error("error during video capture", "error", err)
		return "", err
	}

	id, err := s.store.SaveCapture(ctx, frame, models.DefaultFileType)
	if err != nil {
		slog.Error("failed to save capture", "error", err)
		return "", err
	}

	slog.Info("video frame captured and saved", "capture_id", id, "bytes", len(frame))
	return id, nil
}

// Upload saves an image file as a new recent capture. The file type is
// detected from the content; anything that is not an image is rejected.
func (s *CaptureService) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", validationError("empty file")
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", validationError(fmt.Sprintf("unsupported file type %s", mt.String()))
	}

	id, err := s.store.SaveCaptureFile(ctx, db.CaptureFile{
		Name:     filepath.Base(name),
		Data:     data,
		FileType: strings.TrimPrefix(mt.Extension(), "."),
	})
	if err != nil {
		return "", err
	}

	slog.Info("image file saved", "capture_id", id, "filename", name, "mime", mt.String())
	return id, nil
}
