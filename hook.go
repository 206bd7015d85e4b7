package hooksync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// Trampoline is the machine code written over a hooked address.
//
// The displacement bytes at JumpOffset are filled in by Enable. The branch
// carrying the displacement is expected at the start of Code, so the
// displacement is relative to the source address plus JumpLen.
type Trampoline struct {
	// the replacement instructions, including padding
	Code []byte
	// byte offset of the rel32 displacement in Code
	JumpOffset int
	// length of the jump or call instruction
	JumpLen int
}

// Validate checks that the displacement fits inside Code.
func (t Trampoline) Validate() error {
	if t.JumpOffset < 0 || t.JumpLen <= rel32Size {
		return fmt.Errorf("%w: offset %d, length %d", ErrBadTrampoline, t.JumpOffset, t.JumpLen)
	}
	if len(t.Code) < t.JumpOffset+rel32Size || len(t.Code) < t.JumpLen {
		return fmt.Errorf("%w: %d bytes cannot hold a %d byte branch at %d",
			ErrBadTrampoline, len(t.Code), t.JumpLen, t.JumpOffset)
	}
	return nil
}

// Patch returns a copy of Code with the displacement from -> to written in.
func (t Trampoline) Patch(from, to uintptr) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if overflowsS32(from+uintptr(t.JumpLen), to) {
		return nil, fmt.Errorf("%w: %#x -> %#x", ErrOutOfRange, from, to)
	}
	code := make([]byte, len(t.Code))
	copy(code, t.Code)
	binary.LittleEndian.PutUint32(code[t.JumpOffset:], uint32(Displacement(from, to, t.JumpLen)))
	return code, nil
}

// Site describes where a hook is installed and where execution is sent.
type Site interface {
	From() uintptr
	To() uintptr
	Trampoline() Trampoline
}

// Resumer is implemented by sites inserted mid-function. The returned
// address receives a jump back past the installed trampoline.
type Resumer interface {
	ReturnAddress() (uintptr, bool)
}

// Hook redirects execution at a site to its detour. It satisfies the
// Name/Enable/Disable contract of a mod.
type Hook struct {
	name string
	mem  Memory
	site Site
	log  *slog.Logger

	// bytes present at the source before Enable
	origin []byte
}

// hookKey identifies a hooked address. mem is the identity of the memory
// the hook writes to, see memIdentity.
type hookKey struct {
	mem  any
	from uintptr
}

// memPtr identifies memory implemented by a reference type.
type memPtr struct {
	t reflect.Type
	p uintptr
}

// memIdentity returns a comparable identity for mem: its address when it is
// a reference, the value itself otherwise.
func memIdentity(mem Memory) (any, error) {
	v := reflect.ValueOf(mem)
	if !v.IsValid() {
		return nil, ErrNilMemory
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice, reflect.UnsafePointer:
		return memPtr{v.Type(), v.Pointer()}, nil
	}
	if !v.Comparable() {
		return nil, fmt.Errorf("%w: %T", ErrNotComparable, mem)
	}
	return mem, nil
}

var (
	// hooks applied with target addresses as keys
	hooks = make(map[hookKey]*Hook)
	// protect the hooks map
	lock sync.Mutex
)

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrBadTrampoline means the trampoline cannot hold its branch
	ErrBadTrampoline = errors.New("malformed trampoline")
	// ErrOutOfRange means the destination is not reachable with rel32
	ErrOutOfRange = errors.New(">32bit rel offset")
	// ErrRelativeAddr means an instruction cannot be relocated
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrNilMemory means a hook was given no memory
	ErrNilMemory = errors.New("nil memory")
	// ErrNotComparable means a memory value has no identity to register
	// hooks under; pass it by pointer
	ErrNotComparable = errors.New("memory is not comparable")
)

// NewHook creates a hook on mem. A nil logger means slog.Default().
func NewHook(name string, mem Memory, site Site, log *slog.Logger) *Hook {
	if log == nil {
		log = slog.Default()
	}
	return &Hook{name: name, mem: mem, site: site, log: log}
}

func (h *Hook) Name() string { return h.name }

func (h *Hook) Site() Site { return h.site }

// OriginBytes returns the bytes saved by Enable.
func (h *Hook) OriginBytes() []byte { return h.origin }

// Enable writes the trampoline over the source address and, for resumable
// sites, the jump back from the detour.
func (h *Hook) Enable() error {
	from, to := h.site.From(), h.site.To()
	if err := CheckNullAddress(from); err != nil {
		return fmt.Errorf("%s: source: %w", h.name, err)
	}
	if err := CheckNullAddress(to); err != nil {
		return fmt.Errorf("%s: destination: %w", h.name, err)
	}
	code, err := h.site.Trampoline().Patch(from, to)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}

	id, err := memIdentity(h.mem)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	key := hookKey{id, from}
	lock.Lock()
	defer lock.Unlock()
	if _, ok := hooks[key]; ok {
		return fmt.Errorf("%s at %#x: %w", h.name, from, ErrDoubleHook)
	}

	origin := make([]byte, len(code))
	if err := AlterMemory(h.mem, from, code, origin); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	h.origin = origin
	if isDebug.Load() {
		h.log.Debug("hook installed", "hook", h.name, "addr", fmt.Sprintf("%#x", from),
			"before", fmt.Sprintf("% x", origin), "after", fmt.Sprintf("% x", code))
	}

	if r, ok := h.site.(Resumer); ok {
		if ret, ok := r.ReturnAddress(); ok {
			back := FormatJump(ret, from+uintptr(len(code)))
			if err := AlterMemory(h.mem, ret, back[:], nil); err != nil {
				if rerr := h.mem.WriteAt(origin, from); rerr != nil {
					h.log.Error("restore after failed resume patch", "hook", h.name, "err", rerr)
				}
				return fmt.Errorf("%s: resume: %w", h.name, err)
			}
		}
	}
	hooks[key] = h
	return nil
}

// Disable copies the saved bytes back over the source. A hook that was
// never enabled has nothing to restore.
func (h *Hook) Disable() error {
	if len(h.origin) == 0 {
		return nil
	}
	from := h.site.From()
	lock.Lock()
	defer lock.Unlock()
	if err := AlterMemory(h.mem, from, h.origin, nil); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	if id, err := memIdentity(h.mem); err == nil {
		key := hookKey{id, from}
		if hooks[key] == h {
			delete(hooks, key)
		}
	}
	return nil
}

// Applied reports the hook currently installed at from, if any.
func Applied(mem Memory, from uintptr) (*Hook, bool) {
	id, err := memIdentity(mem)
	if err != nil {
		return nil, false
	}
	lock.Lock()
	defer lock.Unlock()
	h, ok := hooks[hookKey{id, from}]
	return h, ok
}

var isDebug atomic.Bool

// SetDebug enables logging of patched bytes.
func SetDebug(x bool) {
	isDebug.Store(x)
}
