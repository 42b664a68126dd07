// Package logtail reads the last lines of the server log file.
package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// DefaultLines is how many lines the log endpoints return.
const DefaultLines = 1000

const chunkSize = 4096

// ErrNoLogs is returned when the log file does not exist.
var ErrNoLogs = errors.New("no logs available")

// Tail returns the last n lines of the file at path, oldest first.
// The file is read backward in fixed-size chunks until n lines are
// found or the start of the file is reached.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultLines
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoLogs
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	var (
		buf      []byte
		position = info.Size()
		chunk    = make([]byte, chunkSize)
	)
	// One extra newline is needed to know the oldest wanted line is complete.
	for position > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		start := max(position-chunkSize, 0)
		size := int(position - start)
		if _, err := f.ReadAt(chunk[:size], start); err != nil {
			return nil, fmt.Errorf("read log file: %w", err)
		}
		buf = append(append([]byte(nil), chunk[:size]...), buf...)
		position = start
	}

	lines := splitLines(buf)
	if position > 0 && len(lines) > 0 {
		// The first line may be cut at the chunk boundary.
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(b []byte) []string {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(bytes.TrimSuffix(p, []byte{'\r'}))
	}
	return lines
}

// Reverse returns lines newest first.
func Reverse(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[len(lines)-1-i] = l
	}
	return out
}
