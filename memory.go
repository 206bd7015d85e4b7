package hooksync

import (
	"errors"
	"fmt"
	"syscall"
)

// Memory is the address space of a host process.
type Memory interface {
	ReadAt(p []byte, addr uintptr) error
	WriteAt(p []byte, addr uintptr) error
	// Protect makes [addr, addr+size) writable and executable.
	Protect(addr uintptr, size int) error
}

var (
	// ErrNullAddress means a zero address was given
	ErrNullAddress = errors.New("null address")
	// ErrBufferTooSmall means the buffer for original bytes is too small
	ErrBufferTooSmall = errors.New("buffer for original bytes is too small")
	// ErrAddressNotMapped means the range is outside the address space
	ErrAddressNotMapped = errors.New("address not mapped")
)

// ProtectError is a failed protection change.
type ProtectError struct {
	Addr uintptr
	Size int
	Err  error
}

func (e *ProtectError) Error() string {
	return fmt.Sprintf("protect %#x+%d: %v", e.Addr, e.Size, e.Err)
}

func (e *ProtectError) Unwrap() error { return e.Err }

// Code returns the platform error code, or zero if there is none.
func (e *ProtectError) Code() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

// CheckNullAddress fails on a zero address.
func CheckNullAddress(addr uintptr) error {
	if addr == 0 {
		return ErrNullAddress
	}
	return nil
}

// AlterMemory overwrites memory at addr with code. When origin is not empty
// the current bytes are saved into it first; an origin shorter than code is
// rejected before anything is written.
func AlterMemory(mem Memory, addr uintptr, code, origin []byte) error {
	if err := CheckNullAddress(addr); err != nil {
		return err
	}
	if len(origin) != 0 && len(origin) < len(code) {
		return fmt.Errorf("%w: %d < %d", ErrBufferTooSmall, len(origin), len(code))
	}
	if err := mem.Protect(addr, len(code)); err != nil {
		return err
	}
	if len(origin) != 0 {
		if err := mem.ReadAt(origin[:len(code)], addr); err != nil {
			return err
		}
	}
	return mem.WriteAt(code, addr)
}

// ReadUint32 reads a little-endian 32-bit value, the pointer size of the host.
func ReadUint32(mem Memory, addr uintptr) (uint32, error) {
	var b [4]byte
	if err := mem.ReadAt(b[:], addr); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// WriteUint32 writes a little-endian 32-bit value.
func WriteUint32(mem Memory, addr uintptr, v uint32) error {
	b := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return mem.WriteAt(b[:], addr)
}
