package hooksync

import (
	"fmt"
	"sync"
	"syscall"
)

// ImagePageSize is the page granularity of an Image.
const ImagePageSize = 0x1000

// Image is a flat, in-memory address space starting at a base address. Every
// page starts read-execute; Protect must be called before a write.
type Image struct {
	mu       sync.RWMutex
	base     uintptr
	data     []byte
	writable map[uintptr]bool
	writes   int
}

// NewImage creates a zeroed image of size bytes mapped at base.
func NewImage(base uintptr, size int) *Image {
	return &Image{
		base:     base,
		data:     make([]byte, size),
		writable: make(map[uintptr]bool),
	}
}

func (m *Image) Base() uintptr { return m.base }

func (m *Image) Size() int { return len(m.data) }

func (m *Image) span(addr uintptr, n int) (int, error) {
	if addr < m.base || addr-m.base+uintptr(n) > uintptr(len(m.data)) {
		return 0, fmt.Errorf("%#x+%d: %w", addr, n, ErrAddressNotMapped)
	}
	return int(addr - m.base), nil
}

func (m *Image) ReadAt(p []byte, addr uintptr) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	off, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

func (m *Image) WriteAt(p []byte, addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	for page := addr / ImagePageSize; page*ImagePageSize < addr+uintptr(len(p)); page++ {
		if !m.writable[page] {
			return &ProtectError{Addr: addr, Size: len(p), Err: syscall.EACCES}
		}
	}
	copy(m.data[off:], p)
	m.writes++
	return nil
}

func (m *Image) Protect(addr uintptr, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.span(addr, size); err != nil {
		return &ProtectError{Addr: addr, Size: size, Err: err}
	}
	for page := addr / ImagePageSize; page*ImagePageSize < addr+uintptr(size); page++ {
		m.writable[page] = true
	}
	return nil
}

// Load copies p to addr regardless of protection, as a loader mapping the
// image would.
func (m *Image) Load(p []byte, addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.span(addr, len(p))
	if err != nil {
		return err
	}
	copy(m.data[off:], p)
	return nil
}

// Bytes returns a copy of n bytes at addr.
func (m *Image) Bytes(addr uintptr, n int) []byte {
	b := make([]byte, n)
	if err := m.ReadAt(b, addr); err != nil {
		return nil
	}
	return b
}

// Writes counts successful WriteAt calls.
func (m *Image) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
