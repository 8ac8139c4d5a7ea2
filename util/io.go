package util

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
)

// CappedBuffer collects writes up to a fixed number of bytes and
// silently drops the rest.  Write always reports the full length so a
// child process writing through it never sees a short write.
//
// It is safe for concurrent use; os/exec copies stdout and stderr from
// separate goroutines when they are different writers, and may share
// one buffer between both.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

// NewCappedBuffer returns a buffer that keeps at most limit bytes.
func NewCappedBuffer(limit int) *CappedBuffer {
	if limit < 0 {
		limit = 0
	}
	return &CappedBuffer{limit: limit}
}

// Write implements io.Writer.
func (c *CappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.limit - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// String returns the retained bytes.
func (c *CappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Len returns the number of retained bytes.
func (c *CappedBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// Truncated reports whether any write was cut short.
func (c *CappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// Reset empties the buffer and clears the truncation flag.
func (c *CappedBuffer) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.truncated = false
	c.mu.Unlock()
}

// IsExpectedClose reports whether err is the ordinary result of a peer
// or local close: EOF, a closed connection, a broken pipe or a reset.
// Relays use it to decide between a quiet teardown and a warning.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry.  The relay pumps
// poll their sockets with short read deadlines and treat a timeout as
// "no data yet" rather than a failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
