// Package camera captures still frames from a video device and encodes
// them as PNG.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/raphaelgruber/observer/internal/metrics"
)

// ErrDeviceUnavailable is returned when the device cannot be opened or
// does not deliver a frame.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Source is an open video device.
type Source interface {
	// ReadFrame returns the most recent frame.
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens the video device.
type Opener func(ctx context.Context) (Source, error)

// Camera holds one shared device handle, opened on first use.
// Captures are serialized.
type Camera struct {
	mu      sync.Mutex
	open    Opener
	src     Source
	metrics *metrics.Collector
}

// New returns a Camera that opens its device lazily through open.
func New(open Opener, mc *metrics.Collector) *Camera {
	return &Camera{open: open, metrics: mc}
}

// CaptureFrame reads one frame and returns it PNG-encoded. Any failure
// releases the handle so the next call reopens the device.
func (c *Camera) CaptureFrame(ctx context.Context) (png []byte, err error) {
	defer c.metrics.Since(metrics.OpCapture, time.Now(), &err)

	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Info("starting video capture")

	if c.src == nil {
		src, err := c.open(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: open: %w", ErrDeviceUnavailable, err)
		}
		c.src = src
	}

	frame, err := c.src.ReadFrame(ctx)
	if err != nil {
		c.releaseLocked()
		return nil, fmt.Errorf("%w: read frame: %w", ErrDeviceUnavailable, err)
	}

	img, err := frame.Image()
	if err != nil {
		c.releaseLocked()
		return nil, fmt.Errorf("%w: convert frame: %w", ErrDeviceUnavailable, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the device handle if one is open.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	return err
}

func (c *Camera) releaseLocked() {
	if c.src == nil {
		return
	}
	if err := c.src.Close(); err != nil {
		slog.Warn("failed to release capture device", "error", err)
	}
	c.src = nil
}
