package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func numbered(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %04d with some padding to cross chunk boundaries\n", i)
	}
	return sb.String()
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "absent.log"), 10)
	assert.ErrorIs(t, err, ErrNoLogs)
}

func TestTailEmptyFile(t *testing.T) {
	lines, err := Tail(writeLog(t, ""), 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTailShortFile(t *testing.T) {
	lines, err := Tail(writeLog(t, "a\nb\nc\n"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestTailNoTrailingNewline(t *testing.T) {
	lines, err := Tail(writeLog(t, "a\r\nb\r\nc"), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, lines)
}

func TestTailAcrossChunks(t *testing.T) {
	path := writeLog(t, numbered(500))

	lines, err := Tail(path, 100)
	require.NoError(t, err)
	require.Len(t, lines, 100)
	assert.True(t, strings.HasPrefix(lines[0], "line 0401 "), lines[0])
	assert.True(t, strings.HasPrefix(lines[99], "line 0500 "), lines[99])
}

func TestTailWholeFileAcrossChunks(t *testing.T) {
	lines, err := Tail(writeLog(t, numbered(300)), 1000)
	require.NoError(t, err)
	require.Len(t, lines, 300)
	assert.True(t, strings.HasPrefix(lines[0], "line 0001 "))
}

func TestTailDefaultLimit(t *testing.T) {
	lines, err := Tail(writeLog(t, numbered(1200)), 0)
	require.NoError(t, err)
	assert.Len(t, lines, DefaultLines)
	assert.True(t, strings.HasPrefix(lines[0], "line 0201 "))
}

func TestReverse(t *testing.T) {
	assert.Equal(t, []string{"c", "b", "a"}, Reverse([]string{"a", "b", "c"}))
	assert.Empty(t, Reverse(nil))
}
