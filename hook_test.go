package hooksync

import (
	"bytes"
	"encoding/binary"
	"errors"
	"syscall"
	"testing"
)

const (
	testBase = 0x00400000
	testSize = 0x00010000
)

// push ebp; mov ebp, esp; and esp, 0xfffffff8; push ebx
var testPrologue = []byte{0x55, 0x8b, 0xec, 0x83, 0xe4, 0xf8, 0x53}

func newTestImage(t *testing.T) *Image {
	t.Helper()
	m := NewImage(testBase, testSize)
	if err := m.Load(testPrologue, 0x00401000); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDisplacementRoundTrip(t *testing.T) {
	cases := []struct {
		from, to uintptr
		length   int
	}{
		{0x00401000, 0x00402000, JmpLen},
		{0x0042a0f0, 0x00780000, JmpLen},
		{0x00780040, 0x0042a0f6, JmpLen},
		{0x10000000, 0x0ffffff0, CallLen},
	}
	for _, c := range cases {
		tr := TrampolineFor(ShapeJump, c.length)
		code, err := tr.Patch(c.from, c.to)
		if err != nil {
			t.Fatalf("%#x -> %#x: %v", c.from, c.to, err)
		}
		want := Displacement(c.from, c.to, c.length)
		got := int32(binary.LittleEndian.Uint32(code[tr.JumpOffset:]))
		if got != want {
			t.Errorf("%#x -> %#x: displacement %d, want %d", c.from, c.to, got, want)
		}
		target, err := Arch386.DecodeBranch(code, c.from)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if target != c.to {
			t.Errorf("decoded target %#x, want %#x", target, c.to)
		}
		call := FormatCall(c.from, c.to)
		if target, _ := Arch386.DecodeBranch(call[:], c.from); target != c.to {
			t.Errorf("call target %#x, want %#x", target, c.to)
		}
	}
}

func TestPatchOutOfRange(t *testing.T) {
	if ^uintptr(0)>>32 == 0 {
		t.Skip("32-bit address space")
	}
	far := uint64(0x100001000)
	_, err := TrampolineFor(ShapeJump, JmpLen).Patch(0x1000, uintptr(far))
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
}

func TestTrampolineValidate(t *testing.T) {
	cases := []struct {
		name string
		tr   Trampoline
		ok   bool
	}{
		{"jump", TrampolineFor(ShapeJump, 6), true},
		{"call", TrampolineFor(ShapeCall, JmpLen), true},
		{"short code", Trampoline{Code: []byte{OpJmp, 0, 0}, JumpOffset: 1, JumpLen: JmpLen}, false},
		{"offset past end", Trampoline{Code: make([]byte, 6), JumpOffset: 4, JumpLen: JmpLen}, false},
		{"no length", Trampoline{Code: make([]byte, 6), JumpOffset: 1}, false},
	}
	for _, c := range cases {
		err := c.tr.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: Validate() = %v", c.name, err)
		}
		if err != nil && !errors.Is(err, ErrBadTrampoline) {
			t.Errorf("%s: %v is not ErrBadTrampoline", c.name, err)
		}
	}
}

func TestEnableDisableRestores(t *testing.T) {
	m := newTestImage(t)
	before := m.Bytes(0x00401000, len(testPrologue))

	site := Point{
		Source:      0x00401000,
		Destination: 0x00402000,
		Code:        TrampolineFor(ShapeJump, 6),
		Return:      0x00402010,
	}
	h := NewHook("test", m, site, nil)
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	want := FormatJump(0x00401000, 0x00402000)
	got := m.Bytes(0x00401000, 6)
	if !bytes.Equal(got[:JmpLen], want[:]) || got[5] != OpNop {
		t.Errorf("patched bytes % x", got)
	}
	if !bytes.Equal(h.OriginBytes(), before[:6]) {
		t.Errorf("saved % x, want % x", h.OriginBytes(), before[:6])
	}
	back := FormatJump(0x00402010, 0x00401006)
	if got := m.Bytes(0x00402010, JmpLen); !bytes.Equal(got, back[:]) {
		t.Errorf("resume patch % x, want % x", got, back)
	}
	if applied, ok := Applied(m, 0x00401000); !ok || applied != h {
		t.Error("hook not registered")
	}

	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := m.Bytes(0x00401000, len(testPrologue)); !bytes.Equal(got, before) {
		t.Errorf("after Disable % x, want % x", got, before)
	}
	if _, ok := Applied(m, 0x00401000); ok {
		t.Error("hook still registered")
	}
	if err := h.Disable(); err != nil {
		t.Errorf("second Disable: %v", err)
	}
	if got := m.Bytes(0x00401000, len(testPrologue)); !bytes.Equal(got, before) {
		t.Errorf("after second Disable % x", got)
	}
}

func TestDoubleHook(t *testing.T) {
	m := newTestImage(t)
	site := Point{Source: 0x00401000, Destination: 0x00402000, Code: TrampolineFor(ShapeJump, 6)}
	first := NewHook("first", m, site, nil)
	if err := first.Enable(); err != nil {
		t.Fatal(err)
	}
	defer first.Disable()
	if err := NewHook("second", m, site, nil).Enable(); !errors.Is(err, ErrDoubleHook) {
		t.Fatalf("got %v, want ErrDoubleHook", err)
	}
}

func TestEnableNullAddress(t *testing.T) {
	m := newTestImage(t)
	for _, site := range []Point{
		{Source: 0, Destination: 0x00402000, Code: TrampolineFor(ShapeJump, JmpLen)},
		{Source: 0x00401000, Destination: 0, Code: TrampolineFor(ShapeJump, JmpLen)},
	} {
		err := NewHook("null", m, site, nil).Enable()
		if !errors.Is(err, ErrNullAddress) {
			t.Errorf("got %v, want ErrNullAddress", err)
		}
	}
	if m.Writes() != 0 {
		t.Errorf("%d writes, want none", m.Writes())
	}
}

func TestAlterMemoryBufferTooSmall(t *testing.T) {
	m := newTestImage(t)
	err := AlterMemory(m, 0x00401000, []byte{OpRet, OpNop, OpNop}, make([]byte, 2))
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}
	if m.Writes() != 0 {
		t.Errorf("%d writes, want none", m.Writes())
	}
}

func TestProtectFailure(t *testing.T) {
	m := newTestImage(t)
	site := Point{Source: testBase + testSize - 2, Destination: 0x00402000, Code: TrampolineFor(ShapeJump, JmpLen)}
	err := NewHook("edge", m, site, nil).Enable()
	var perr *ProtectError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want a ProtectError", err)
	}
	if !errors.Is(err, ErrAddressNotMapped) {
		t.Errorf("%v does not wrap ErrAddressNotMapped", err)
	}
}

func TestImageWriteProtected(t *testing.T) {
	m := newTestImage(t)
	err := m.WriteAt([]byte{OpRet}, 0x00401000)
	var perr *ProtectError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want a ProtectError", err)
	}
	if perr.Code() != int(syscall.EACCES) {
		t.Errorf("code %d, want EACCES", perr.Code())
	}
}

func TestTableResolve(t *testing.T) {
	type role int
	table := Table[role, Point]{
		0: {Source: 0x1000, Destination: 0x2000, Code: TrampolineFor(ShapeCall, JmpLen)},
		1: {Source: 0x3000, Destination: 0x4000, Code: TrampolineFor(ShapeJump, 6), Return: 0x4010},
	}
	p, err := table.Resolve(1)
	if err != nil {
		t.Fatal(err)
	}
	if ret, ok := p.ReturnAddress(); !ok || ret != 0x4010 {
		t.Errorf("return %#x, %v", ret, ok)
	}
	if p, _ := table.Resolve(0); p.Code.Shape() != ShapeCall {
		t.Errorf("role 0 shape %v", p.Code.Shape())
	}
	if _, err := table.Resolve(2); !errors.Is(err, ErrNoSite) {
		t.Errorf("got %v, want ErrNoSite", err)
	}
}

// viewMemory is a comparable value that writes through to an image.
type viewMemory struct{ *Image }

// batchMemory is a value holding a slice, so it has no value identity.
type batchMemory struct {
	*Image
	pending []uintptr
}

func TestHookMemoryIdentity(t *testing.T) {
	m := newTestImage(t)
	site := Point{Source: 0x00401000, Destination: 0x00402000, Code: TrampolineFor(ShapeJump, 6)}

	first := NewHook("view", viewMemory{m}, site, nil)
	if err := first.Enable(); err != nil {
		t.Fatal(err)
	}
	defer first.Disable()
	// equal values are the same memory
	if err := NewHook("view-again", viewMemory{m}, site, nil).Enable(); !errors.Is(err, ErrDoubleHook) {
		t.Errorf("got %v, want ErrDoubleHook", err)
	}
	if h, ok := Applied(viewMemory{m}, site.Source); !ok || h != first {
		t.Error("hook not found by value")
	}

	other := NewImage(testBase, testSize)
	if err := other.Load(testPrologue, 0x00401000); err != nil {
		t.Fatal(err)
	}
	second := NewHook("other", other, site, nil)
	if err := second.Enable(); err != nil {
		t.Errorf("hook on another image: %v", err)
	}
	defer second.Disable()

	err := NewHook("batch", batchMemory{Image: m}, site, nil).Enable()
	if !errors.Is(err, ErrNotComparable) {
		t.Errorf("got %v, want ErrNotComparable", err)
	}
	if _, ok := Applied(batchMemory{Image: m}, site.Source); ok {
		t.Error("non comparable memory found a hook")
	}
	if err := NewHook("nil", nil, site, nil).Enable(); !errors.Is(err, ErrNilMemory) {
		t.Errorf("got %v, want ErrNilMemory", err)
	}
}

func TestSetDebugConcurrent(t *testing.T) {
	defer SetDebug(false)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			SetDebug(i%2 == 0)
		}
	}()
	m := newTestImage(t)
	site := Point{Source: 0x00401000, Destination: 0x00402000, Code: TrampolineFor(ShapeJump, 6)}
	for i := 0; i < 100; i++ {
		h := NewHook("debug", m, site, nil)
		if err := h.Enable(); err != nil {
			t.Fatal(err)
		}
		if err := h.Disable(); err != nil {
			t.Fatal(err)
		}
	}
	<-done
}
