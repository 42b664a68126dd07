// Package v4l2 reads raw frames from a Video4Linux device through a
// GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → capsfilter → appsink
//
// The appsink keeps only the latest frame, so ReadFrame always returns a
// fresh image rather than one queued seconds ago.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/raphaelgruber/observer/internal/camera"
)

// Config describes the device and the frame layout requested from it.
type Config struct {
	Device  string
	Width   int
	Height  int
	Format  camera.PixelFormat
	Timeout time.Duration
}

// Opener returns a camera.Opener that builds a pipeline for cfg.
func Opener(cfg Config) camera.Opener {
	return func(ctx context.Context) (camera.Source, error) {
		return Open(ctx, cfg)
	}
}

// Source is a running pipeline. It implements camera.Source.
type Source struct {
	cfg      Config
	pipeline *gst.Pipeline
	frames   chan []byte

	closeOnce sync.Once
}

var initOnce sync.Once

// Open builds the pipeline and sets it to PLAYING. Frames start arriving
// asynchronously; the first ReadFrame waits for one.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("unsupported pixel format %q", cfg.Format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsString(cfg)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	s := &Source{
		cfg:      cfg,
		pipeline: pipeline,
		frames:   make(chan []byte, 1),
	}

	if err := pipeline.AddMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	slog.Info("camera pipeline started",
		"device", cfg.Device,
		"width", cfg.Width,
		"height", cfg.Height,
		"format", string(cfg.Format),
	)
	return s, nil
}

// onNewSample copies the latest buffer into the frame slot, replacing any
// frame nobody has read yet.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	// Drop the stale frame, if any, then store the new one.
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- frame:
	default:
	}
	return gst.FlowOK
}

// ReadFrame returns the next frame the pipeline delivers. It fails when
// the pipeline has posted an error or end-of-stream, or when no frame
// arrives within the configured timeout.
func (s *Source) ReadFrame(ctx context.Context) (camera.Frame, error) {
	if err := s.busError(); err != nil {
		return camera.Frame{}, err
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-s.frames:
		return camera.Frame{
			Width:  s.cfg.Width,
			Height: s.cfg.Height,
			Stride: Stride(s.cfg.Width, s.cfg.Format),
			Format: s.cfg.Format,
			Data:   data,
		}, nil
	case <-timer.C:
		if err := s.busError(); err != nil {
			return camera.Frame{}, err
		}
		return camera.Frame{}, fmt.Errorf("no frame from %s within %s", s.cfg.Device, timeout)
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	}
}

// busError drains pending bus messages and reports the first error or
// end-of-stream.
func (s *Source) busError() error {
	bus := s.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return errors.New("end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera pipeline error",
				"device", s.cfg.Device,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}

// Close stops the pipeline. It is safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pipeline.SetState(gst.StateNull)
		slog.Info("camera pipeline stopped", "device", s.cfg.Device)
	})
	return err
}

func capsString(cfg Config) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", cfg.Format, cfg.Width, cfg.Height)
}

// Stride is the row size GStreamer uses for packed raw video: rows are
// padded to a multiple of four bytes.
func Stride(width int, format camera.PixelFormat) int {
	return (width*format.BytesPerPixel() + 3) &^ 3
}
