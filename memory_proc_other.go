//go:build !linux

package hooksync

import "errors"

// ErrNoProcessMemory means this platform has no process memory file.
var ErrNoProcessMemory = errors.New("process memory is not supported on this platform")

// ProcessMemory is only available on linux.
type ProcessMemory struct{}

// OpenProcess is only available on linux.
func OpenProcess(pid int) (*ProcessMemory, error) {
	return nil, ErrNoProcessMemory
}

func (m *ProcessMemory) Pid() int { return 0 }

func (m *ProcessMemory) ReadAt(p []byte, addr uintptr) error { return ErrNoProcessMemory }

func (m *ProcessMemory) WriteAt(p []byte, addr uintptr) error { return ErrNoProcessMemory }

func (m *ProcessMemory) Protect(addr uintptr, size int) error { return ErrNoProcessMemory }

func (m *ProcessMemory) Close() error { return nil }
