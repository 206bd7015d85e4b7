package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Conn is an exclusively owned stream connection. Send and Recv move
// whole buffers or fail; Close from any goroutine unblocks a pending Recv.
type Conn struct {
	c      net.Conn
	closed atomic.Bool
	once   sync.Once
}

// NewConn wraps an established net.Conn.
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c}
}

// Dial connects to addr.
func Dial(ctx context.Context, addr Addr) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		return nil, sysError("connect "+addr.String(), err)
	}
	return NewConn(c), nil
}

// Valid reports whether the connection is open.
func (c *Conn) Valid() bool {
	return c != nil && c.c != nil && !c.closed.Load()
}

func (c *Conn) RemoteAddr() string {
	if c == nil || c.c == nil {
		return ""
	}
	return c.c.RemoteAddr().String()
}

// Send writes all of p.
func (c *Conn) Send(p []byte) error {
	if err := CheckSizeLimit(len(p)); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("send: %w", ErrClosed)
	}
	if _, err := c.c.Write(p); err != nil {
		return sysError("send", err)
	}
	return nil
}

// Recv fills p completely. A peer closing early is ErrShortRead.
func (c *Conn) Recv(p []byte) error {
	if err := CheckSizeLimit(len(p)); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("recv: %w", ErrClosed)
	}
	n, err := io.ReadFull(c.c, p)
	switch {
	case err == nil:
		return nil
	case c.closed.Load():
		return fmt.Errorf("recv: %w", ErrClosed)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("recv: %w: %d of %d bytes", ErrShortRead, n, len(p))
	}
	return sysError("recv", err)
}

// Close closes the connection. It is safe to call more than once and
// concurrently with Recv.
func (c *Conn) Close() error {
	if c == nil || c.c == nil {
		return nil
	}
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.c.Close()
	})
	return err
}
