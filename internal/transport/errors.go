package transport

import (
	"errors"
	"fmt"
	"math"
	"net"
	"syscall"
)

var (
	// ErrBadAddress means an address does not parse for its family
	ErrBadAddress = errors.New("bad address")
	// ErrTooLarge means a transfer exceeds the signed 32-bit limit
	ErrTooLarge = errors.New("transfer too large")
	// ErrClosed means the connection or listener was closed
	ErrClosed = errors.New("connection closed")
	// ErrShortRead means the peer closed before the buffer was filled
	ErrShortRead = errors.New("short read")
	// ErrAccepted means the listener already accepted its connection
	ErrAccepted = errors.New("connection already accepted")
	// ErrNotBound means Listen was called before Bind
	ErrNotBound = errors.New("listener not bound")
)

// CheckSizeLimit fails when n bytes cannot be moved in one transfer.
func CheckSizeLimit(n int) error {
	if int64(n) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	return nil
}

// SysError is a failed socket operation with the platform error code.
type SysError struct {
	Op   string
	Code int
	Msg  string
	Err  error
}

func (e *SysError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Msg, e.Code)
}

func (e *SysError) Unwrap() error { return e.Err }

// sysError categorizes err from a net call.
func sysError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		msg := errno.Error()
		if name := errnoName(errno); name != "" {
			msg = name + ": " + msg
		}
		return &SysError{Op: op, Code: int(errno), Msg: msg, Err: err}
	}
	return &SysError{Op: op, Msg: err.Error(), Err: err}
}
