package hooksync

import (
	"errors"
	"fmt"
)

// Shape selects the branch a trampoline starts with.
type Shape int

const (
	// ShapeCall calls the detour, which returns past the trampoline.
	ShapeCall Shape = iota
	// ShapeJump jumps to the detour, which resumes through a return patch.
	ShapeJump
)

func (s Shape) String() string {
	switch s {
	case ShapeCall:
		return "call"
	case ShapeJump:
		return "jump"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// TrampolineFor builds a trampoline of the given shape covering size bytes.
// Bytes past the branch are NOP padding so the displaced instruction run is
// replaced whole.
func TrampolineFor(s Shape, size int) Trampoline {
	if size < JmpLen {
		size = JmpLen
	}
	code := make([]byte, size)
	for i := range code {
		code[i] = OpNop
	}
	if s == ShapeCall {
		code[0] = OpCall
	} else {
		code[0] = OpJmp
	}
	for i := 1; i < JmpLen; i++ {
		code[i] = 0
	}
	return Trampoline{Code: code, JumpOffset: 1, JumpLen: JmpLen}
}

// Shape reports the branch t starts with.
func (t Trampoline) Shape() Shape {
	if len(t.Code) > 0 && t.Code[0] == OpCall {
		return ShapeCall
	}
	return ShapeJump
}

// Point is a fixed Site.
type Point struct {
	Source      uintptr
	Destination uintptr
	Code        Trampoline
	// Return is the resume patch address; zero when the site does not resume
	Return uintptr
}

func (p Point) From() uintptr { return p.Source }

func (p Point) To() uintptr { return p.Destination }

func (p Point) Trampoline() Trampoline { return p.Code }

func (p Point) ReturnAddress() (uintptr, bool) {
	return p.Return, p.Return != 0
}

// ErrNoSite means a table has no entry for a key.
var ErrNoSite = errors.New("no site for key")

// Table resolves what a hook is built from, such as the site and detour of
// the role of the process. It is evaluated once when a hook is constructed.
type Table[K comparable, V any] map[K]V

func (t Table[K, V]) Resolve(k K) (V, error) {
	v, ok := t[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrNoSite, k)
	}
	return v, nil
}
