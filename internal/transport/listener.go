package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Listener accepts the one connection of a session.
type Listener struct {
	mu   sync.Mutex
	addr Addr
	ln   net.Listener
	// set by the Accept call that owns the listener, kept once it returns
	// a connection
	accepted bool
	closed   bool
}

// Bind records the local address to listen on.
func (l *Listener) Bind(addr Addr) error {
	if addr == nil {
		return fmt.Errorf("bind: %w", ErrBadAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addr = addr
	return nil
}

// Listen opens the bound address.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addr == nil {
		return ErrNotBound
	}
	if l.closed {
		return fmt.Errorf("listen: %w", ErrClosed)
	}
	ln, err := net.Listen(l.addr.Network(), l.addr.String())
	if err != nil {
		return sysError("listen "+l.addr.String(), err)
	}
	l.ln = ln
	return nil
}

// Addr returns the address being listened on, with the port the system
// picked when the bound port was zero.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	if l.addr != nil {
		return l.addr.String()
	}
	return ""
}

// Accept blocks for the connection. Cancelling ctx or calling Close
// unblocks it. Only one connection is ever accepted, and only one Accept
// waits at a time; others fail with ErrAccepted.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	ln := l.ln
	if ln == nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("accept: %w", ErrNotBound)
	}
	if l.accepted {
		l.mu.Unlock()
		return nil, ErrAccepted
	}
	l.accepted = true
	l.mu.Unlock()

	c, err := l.accept(ctx, ln)
	if err != nil {
		l.mu.Lock()
		l.accepted = false
		l.mu.Unlock()
		return nil, err
	}
	return c, nil
}

func (l *Listener) accept(ctx context.Context, ln net.Listener) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	c, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("accept: %w", ctx.Err())
		}
		return nil, sysError("accept", err)
	}
	return NewConn(c), nil
}

// Close stops listening. An accepted connection stays open.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
