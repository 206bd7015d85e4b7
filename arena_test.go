package hooksync

import (
	"errors"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

const (
	testArena = 0x00408000
	testGate  = 0x0040f000
)

// decodeAll walks code as an instruction stream and returns the opcodes.
func decodeAll(t *testing.T, code []byte, mode int) []x86asm.Op {
	t.Helper()
	var ops []x86asm.Op
	for n := 0; n < len(code); {
		inst, err := x86asm.Decode(code[n:], mode)
		if err != nil {
			t.Fatalf("decode at %d of % x: %v", n, code, err)
		}
		ops = append(ops, inst.Op)
		n += inst.Len
	}
	return ops
}

func TestEmitStub386(t *testing.T) {
	m := newTestImage(t)
	disp := NewDispatcher(nil)
	arena := NewArena(m, Arch386, testArena, 0x1000, testGate, disp)

	d := &Detour{Name: "resume", Prologue: testPrologue[:6], Resume: true}
	s, err := arena.Emit(d)
	if err != nil {
		t.Fatal(err)
	}
	code := m.Bytes(s.Addr, s.Len)
	ops := decodeAll(t, code, 32)
	if ops[0] != x86asm.PUSHAD || ops[1] != x86asm.PUSHFD {
		t.Errorf("stub does not save registers first: %v", ops[:2])
	}
	ret, ok := s.ReturnAddress()
	if !ok || ret != s.Addr+uintptr(s.Len)-JmpLen {
		t.Fatalf("return address %#x, %v", ret, ok)
	}
	for _, b := range m.Bytes(ret, JmpLen) {
		if b != OpNop {
			t.Fatalf("return slot % x", m.Bytes(ret, JmpLen))
		}
	}
	if got, ok := disp.Lookup(s.Addr); !ok || got != s {
		t.Error("stub not registered")
	}

	plain, err := arena.Emit(&Detour{Name: "plain"})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Addr <= s.Addr || plain.Addr%stubAlign != 0 {
		t.Errorf("second stub at %#x", plain.Addr)
	}
	if m.Bytes(plain.Addr+uintptr(plain.Len)-1, 1)[0] != OpRet {
		t.Error("non resuming stub does not end in ret")
	}
	if _, ok := plain.ReturnAddress(); ok {
		t.Error("non resuming stub has a return address")
	}
}

func TestEmitStubAMD64(t *testing.T) {
	code, err := ArchAMD64.EmitStub(0x1000, 0x7ff612340000, 7, &Detour{Resume: true})
	if err != nil {
		t.Fatal(err)
	}
	ops := decodeAll(t, code, 64)
	pushes, pops := 0, 0
	for _, op := range ops {
		switch op {
		case x86asm.PUSH:
			pushes++
		case x86asm.POP:
			pops++
		}
	}
	if pushes != 15 || pops != 15 {
		t.Errorf("%d pushes, %d pops", pushes, pops)
	}
}

func TestEmitReusesSlot(t *testing.T) {
	m := newTestImage(t)
	disp := NewDispatcher(nil)
	arena := NewArena(m, Arch386, testArena, 0x1000, testGate, disp)

	first, err := arena.Emit(&Detour{Name: "level", Resume: true})
	if err != nil {
		t.Fatal(err)
	}
	again, err := arena.Emit(&Detour{Name: "level", Resume: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.Addr != first.Addr || again.ID != first.ID {
		t.Errorf("re-emitted at %#x id %d, first at %#x id %d", again.Addr, again.ID, first.Addr, first.ID)
	}
	if got, _ := disp.Lookup(first.Addr); got != again {
		t.Error("dispatcher still points at the old detour")
	}
}

func TestArenaFull(t *testing.T) {
	m := newTestImage(t)
	arena := NewArena(m, Arch386, testArena, 8, testGate, NewDispatcher(nil))
	if _, err := arena.Emit(&Detour{Name: "big"}); !errors.Is(err, ErrArenaFull) {
		t.Fatalf("got %v, want ErrArenaFull", err)
	}
}

func TestDispatcherInvoke(t *testing.T) {
	m := newTestImage(t)
	disp := NewDispatcher(nil)
	arena := NewArena(m, Arch386, testArena, 0x1000, testGate, disp)

	var got []int32
	guarded, err := arena.Emit(&Detour{
		Name:     "guarded",
		Guard:    func(f *Frame) bool { return f.Arg(0) == 0x46 },
		Callback: func(f *Frame) { got = append(got, f.Arg(1)) },
	})
	if err != nil {
		t.Fatal(err)
	}
	var called []string
	disp.OnCall(func(name string) { called = append(called, name) })

	if ran, err := disp.Invoke(guarded.ID, &Frame{Args: []int32{1, 2}}); err != nil || ran {
		t.Errorf("guard mismatch ran=%v err=%v", ran, err)
	}
	if ran, err := disp.Invoke(guarded.ID, &Frame{Args: []int32{0x46, 9}}); err != nil || !ran {
		t.Errorf("guard match ran=%v err=%v", ran, err)
	}
	if len(got) != 1 || got[0] != 9 || len(called) != 1 {
		t.Errorf("callback saw %v, calls %v", got, called)
	}
	if _, err := disp.Invoke(999, nil); !errors.Is(err, ErrUnknownDetour) {
		t.Errorf("got %v, want ErrUnknownDetour", err)
	}
}

func TestDetourPanicIsContained(t *testing.T) {
	d := &Detour{Name: "boom", Callback: func(*Frame) { panic("host state corrupt") }}
	if !d.Fire(nil, nil) {
		t.Error("callback did not run")
	}
}

func TestGuardPanicIsContained(t *testing.T) {
	m := newTestImage(t)
	disp := NewDispatcher(nil)
	arena := NewArena(m, Arch386, testArena, 0x1000, testGate, disp)

	called := false
	s, err := arena.Emit(&Detour{
		Name:     "bad-guard",
		Guard:    func(f *Frame) bool { return f.Args[5] == 0x46 },
		Callback: func(*Frame) { called = true },
	})
	if err != nil {
		t.Fatal(err)
	}
	ran, err := disp.Invoke(s.ID, &Frame{Args: []int32{0x46, 1}})
	if err != nil || ran || called {
		t.Errorf("ran=%v called=%v err=%v", ran, called, err)
	}
}
