package hooksync

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ProcessMemory is the address space of a process, accessed through
// /proc/<pid>/mem. Writes through the file ignore page protection, so
// Protect only checks that every page of the range is mapped.
type ProcessMemory struct {
	pid int
	f   *os.File
}

// OpenProcess opens the memory of pid for reading and writing. The caller
// needs ptrace access to the process.
func OpenProcess(pid int) (*ProcessMemory, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &ProcessMemory{pid: pid, f: f}, nil
}

func (m *ProcessMemory) Pid() int { return m.pid }

func (m *ProcessMemory) ReadAt(p []byte, addr uintptr) error {
	if err := CheckNullAddress(addr); err != nil {
		return err
	}
	_, err := m.f.ReadAt(p, int64(addr))
	return m.mapErr(addr, err)
}

func (m *ProcessMemory) WriteAt(p []byte, addr uintptr) error {
	if err := CheckNullAddress(addr); err != nil {
		return err
	}
	_, err := m.f.WriteAt(p, int64(addr))
	return m.mapErr(addr, err)
}

var pageSize = uintptr(unix.Getpagesize())

func (m *ProcessMemory) Protect(addr uintptr, size int) error {
	start := pageSize * (addr / pageSize)
	end := addr + uintptr(size)
	var b [1]byte
	for page := start; page < end || page == start; page += pageSize {
		at := page
		if at < addr {
			at = addr
		}
		if err := m.ReadAt(b[:], at); err != nil {
			return &ProtectError{Addr: addr, Size: size, Err: err}
		}
	}
	return nil
}

func (m *ProcessMemory) Close() error {
	return m.f.Close()
}

func (m *ProcessMemory) mapErr(addr uintptr, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EIO) || errors.Is(err, unix.EFAULT) {
		return fmt.Errorf("pid %d at %#x: %w", m.pid, addr, ErrAddressNotMapped)
	}
	return err
}
