// Package models defines the records kept by the observer: captured images
// and the upstream responses derived from them.
package models

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"
)

// DefaultFileType is the file type of frames taken from the capture device.
const DefaultFileType = "png"

// Capture is one stored still image.
type Capture struct {
	ID        string    `json:"_id"`
	ImageData string    `json:"image_data"`
	FileType  string    `json:"file_type"`
	Filename  string    `json:"filename,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Archived  bool      `json:"archived"`
}

// Bytes decodes the stored base64 image payload.
func (c Capture) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(c.ImageData)
	if err != nil {
		return nil, fmt.Errorf("decode image data for capture %s: %w", c.ID, err)
	}
	return data, nil
}

// MimeType returns the media type implied by the capture's file type.
func (c Capture) MimeType() string {
	return MimeTypeFor(c.FileType)
}

// DataURL renders the capture as a data URL suitable for an image part.
func (c Capture) DataURL() string {
	return "data:" + c.MimeType() + ";base64," + c.ImageData
}

// MimeTypeFor maps a file type ("png", ".jpg", "jpeg") to a media type.
// Unknown types default to image/png, the format frames are encoded in.
func MimeTypeFor(fileType string) string {
	ft := strings.ToLower(strings.TrimPrefix(fileType, "."))
	switch ft {
	case "", "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	}
	if t := mime.TypeByExtension("." + ft); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}
