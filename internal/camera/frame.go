package camera

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// PixelFormat names a raw frame layout using GStreamer's video/x-raw
// format strings.
type PixelFormat string

// Supported raw layouts.
const (
	FormatRGB   PixelFormat = "RGB"
	FormatBGR   PixelFormat = "BGR"
	FormatRGBA  PixelFormat = "RGBA"
	FormatRGBx  PixelFormat = "RGBx"
	FormatBGRA  PixelFormat = "BGRA"
	FormatBGRx  PixelFormat = "BGRx"
	FormatGray8 PixelFormat = "GRAY8"
)

// ParsePixelFormat accepts a format name case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, f := range []PixelFormat{FormatRGB, FormatBGR, FormatRGBA, FormatRGBx, FormatBGRA, FormatBGRx, FormatGray8} {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported pixel format %q", s)
}

// BytesPerPixel returns the packed pixel size of the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB, FormatBGR:
		return 3
	case FormatRGBA, FormatRGBx, FormatBGRA, FormatBGRx:
		return 4
	case FormatGray8:
		return 1
	default:
		return 0
	}
}

// Frame is one raw image read from a Source. Stride is the length of a
// row in bytes; zero means rows are tightly packed.
type Frame struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// Image converts the frame to an RGBA image, swapping channels for the
// blue-first layouts that most webcams deliver.
func (f Frame) Image() (image.Image, error) {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	stride := f.Stride
	if stride == 0 {
		stride = f.Width * bpp
	}
	if stride < f.Width*bpp {
		return nil, fmt.Errorf("stride %d too small for width %d", stride, f.Width)
	}
	if need := stride*(f.Height-1) + f.Width*bpp; len(f.Data) < need {
		return nil, fmt.Errorf("frame data too short: %d bytes, need %d", len(f.Data), need)
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*stride:]
		for x := 0; x < f.Width; x++ {
			p := row[x*bpp:]
			img.SetNRGBA(x, y, pixel(f.Format, p))
		}
	}
	return img, nil
}

func pixel(format PixelFormat, p []byte) color.NRGBA {
	switch format {
	case FormatRGB, FormatRGBx:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xff}
	case FormatBGR, FormatBGRx:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
	case FormatRGBA:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	case FormatBGRA:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	default: // FormatGray8
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: 0xff}
	}
}
