// Package logging captures the output of processes started by the harness.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
)

// DefaultTailBytes is how much of a process' output is kept in memory.
const DefaultTailBytes = 64 * 1024

// TailBuffer keeps only the last N bytes written to it so a representative snippet of output can
// be attached to an outcome without retaining the entire log in memory.
type TailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

// NewTailBuffer creates a tail buffer holding at most maxBytes.
func NewTailBuffer(maxBytes int) *TailBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}
	return &TailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, min(maxBytes, 4096)),
	}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// Keep the most recent bytes
		b.contents = append(b.contents[:0], b.contents[len(b.contents)-b.maxBytes:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the retained bytes.
func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

// TotalBytes returns the number of bytes ever written.
func (b *TailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Truncated reports whether bytes were dropped.
func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}

// String returns the retained output with ANSI escapes removed and surrounding whitespace trimmed.
func (b *TailBuffer) String() string {
	s := strings.TrimSpace(stripansi.Strip(string(b.Bytes())))
	if s != "" && b.Truncated() {
		return "..." + s
	}
	return s
}

// Capture fans output out to an optional log file and a tail buffer.
type Capture struct {
	mu   sync.Mutex
	file *os.File
	path string
	tail *TailBuffer
}

// NewCapture creates a capture. When dir is empty only the tail buffer is kept; otherwise output
// is also written to dir/<name>.log.
func NewCapture(dir, name string, tailBytes int) (*Capture, error) {
	c := &Capture{tail: NewTailBuffer(tailBytes)}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	c.path = filepath.Join(dir, sanitizeFileName(name)+".log")
	f, err := os.Create(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", c.path, err)
	}
	c.file = f
	return c, nil
}

// Write implements io.Writer. It is safe to share one capture between stdout and stderr.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		// The log file is best effort, the tail is what ends up in outcomes.
		_, _ = c.file.WriteString(stripansi.Strip(string(p)))
	}
	return c.tail.Write(p)
}

// Tail returns the cleaned tail of the captured output.
func (c *Capture) Tail() string {
	return c.tail.String()
}

// Path returns the log file path, or "" when output is not persisted.
func (c *Capture) Path() string {
	return c.path
}

// Close closes the log file.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
