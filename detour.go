package hooksync

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Frame is what a detour callback sees of the interrupted host code.
type Frame struct {
	// call arguments, first argument first
	Args []int32
}

// Arg returns argument i, or zero if the host passed fewer.
func (f *Frame) Arg(i int) int32 {
	if f == nil || i < 0 || i >= len(f.Args) {
		return 0
	}
	return f.Args[i]
}

// Callback runs on the host thread inside a detour. It must not block.
type Callback func(f *Frame)

// Detour is the code a hook sends execution to: a callback wrapped in a stub
// that preserves registers and flags.
type Detour struct {
	Name     string
	Callback Callback
	// Guard, when set, must accept the frame for Callback to run
	Guard func(f *Frame) bool
	// instructions executed after the callback, usually the ones displaced
	// by the trampoline
	Prologue []byte
	// instructions ending a detour that does not resume, default ret
	Epilogue []byte
	// Resume ends the stub with a slot for the jump back to the host
	Resume bool
	// Replace means the callback stands in for the displaced host code
	Replace bool
}

// Fire runs the callback if the guard accepts the frame. A panic in the
// guard or the callback is logged and swallowed; it never unwinds into the
// host. A guard that panics rejects the frame.
func (d *Detour) Fire(f *Frame, log *slog.Logger) (ran bool) {
	stage := "guard"
	defer func() {
		if r := recover(); r != nil {
			if log == nil {
				log = slog.Default()
			}
			log.Error("detour "+stage+" panicked", "detour", d.Name, "panic", r)
			ran = stage == "callback"
		}
	}()
	if d.Guard != nil && !d.Guard(f) {
		return false
	}
	stage = "callback"
	if d.Callback != nil {
		d.Callback(f)
	}
	return true
}

// Stub is an emitted detour.
type Stub struct {
	ID     uint32
	Addr   uintptr
	Len    int
	Detour *Detour
}

// ReturnAddress is the slot for the jump back into the host.
func (s *Stub) ReturnAddress() (uintptr, bool) {
	if !s.Detour.Resume {
		return 0, false
	}
	return s.Addr + uintptr(s.Len) - JmpLen, true
}

// Dispatcher maps stubs to their detours. The host side callback gate calls
// Invoke with the id the stub pushed.
type Dispatcher struct {
	mu     sync.RWMutex
	byID   map[uint32]*Stub
	byAddr map[uintptr]*Stub
	next   uint32
	log    *slog.Logger
	calls  func(name string)
}

// NewDispatcher creates an empty dispatcher. A nil logger means
// slog.Default().
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		byID:   make(map[uint32]*Stub),
		byAddr: make(map[uintptr]*Stub),
		next:   1,
		log:    log,
	}
}

// OnCall sets a function told the name of every detour whose callback ran.
func (d *Dispatcher) OnCall(fn func(name string)) {
	d.mu.Lock()
	d.calls = fn
	d.mu.Unlock()
}

func (d *Dispatcher) add(s *Stub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.ID == 0 {
		s.ID = d.next
		d.next++
	}
	if old, ok := d.byID[s.ID]; ok && old.Addr != s.Addr {
		delete(d.byAddr, old.Addr)
	}
	d.byID[s.ID] = s
	d.byAddr[s.Addr] = s
}

// Lookup returns the stub emitted at addr.
func (d *Dispatcher) Lookup(addr uintptr) (*Stub, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byAddr[addr]
	return s, ok
}

// ErrUnknownDetour means the gate was called with an unregistered id.
var ErrUnknownDetour = errors.New("unknown detour")

// Invoke runs the detour registered under id.
func (d *Dispatcher) Invoke(id uint32, f *Frame) (bool, error) {
	d.mu.RLock()
	s, ok := d.byID[id]
	calls := d.calls
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownDetour, id)
	}
	ran := s.Detour.Fire(f, d.log)
	if ran && calls != nil {
		calls(s.Detour.Name)
	}
	return ran, nil
}
