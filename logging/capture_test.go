package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailBufferKeepsMostRecentBytes(t *testing.T) {
	buf := NewTailBuffer(8)

	_, err := buf.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = buf.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, "lo world", string(buf.Bytes()))
	assert.Equal(t, int64(11), buf.TotalBytes())
	assert.True(t, buf.Truncated())
	assert.Equal(t, "...lo world", buf.String())
}

func TestTailBufferNotTruncated(t *testing.T) {
	buf := NewTailBuffer(64)
	_, err := buf.Write([]byte("  short output\n"))
	require.NoError(t, err)

	assert.False(t, buf.Truncated())
	assert.Equal(t, "short output", buf.String())
}

func TestTailBufferStripsANSI(t *testing.T) {
	buf := NewTailBuffer(0)
	_, err := buf.Write([]byte("\x1b[31mred\x1b[0m text"))
	require.NoError(t, err)

	assert.Equal(t, "red text", buf.String())
}

func TestCaptureTailOnly(t *testing.T) {
	c, err := NewCapture("", "proc", 0)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("output"))
	require.NoError(t, err)

	assert.Empty(t, c.Path())
	assert.Equal(t, "output", c.Tail())
}

func TestCaptureWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCapture(dir, "my proc/1", 0)
	require.NoError(t, err)

	_, err = c.Write([]byte("\x1b[32mready\x1b[0m\n"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	// Closing twice is harmless
	require.NoError(t, c.Close())

	assert.True(t, strings.HasSuffix(c.Path(), "my_proc_1.log"))
	data, err := os.ReadFile(c.Path())
	require.NoError(t, err)
	assert.Equal(t, "ready\n", string(data))
}
