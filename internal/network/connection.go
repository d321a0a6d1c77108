// Package network implements the TCP transport between the client and the
// metaserver.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPollTimeout bounds how long a Read waits for data before
	// reporting that none is buffered.
	DefaultPollTimeout = time.Millisecond

	writeTimeout = 10 * time.Second
)

// Connection wraps a TCP connection to the metaserver and presents it as a
// non-blocking stream: Read returns 0, nil when nothing has arrived.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	pollTimeout time.Duration

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// Counters
	bytesIn  uint64
	bytesOut uint64

	// State
	closed bool
}

// Dial connects to the metaserver at addr.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Connection, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metaserver %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return NewConnection(conn), nil
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		pollTimeout:  DefaultPollTimeout,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// SetPollTimeout changes how long Read waits for data.
func (c *Connection) SetPollTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.pollTimeout = d
	}
}

// Read returns whatever bytes are available within the poll timeout. A
// timeout is not an error: it reports 0, nil.
func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	poll := c.pollTimeout
	c.mu.Unlock()

	c.conn.SetReadDeadline(time.Now().Add(poll))
	n, err := c.conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.bytesIn += uint64(n)
		c.mu.Unlock()
	}
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

// Write sends a complete frame.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := c.conn.Write(data)
	c.bytesOut += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info().
		Uint64("bytes_in", c.bytesIn).
		Uint64("bytes_out", c.bytesOut).
		Dur("duration", time.Since(c.connectedAt)).
		Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Stats returns the number of bytes read and written.
func (c *Connection) Stats() (in, out uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesIn, c.bytesOut
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
