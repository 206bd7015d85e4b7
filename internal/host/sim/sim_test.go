package sim

import (
	"errors"
	"testing"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/host"
	"github.com/k2io/hooksync/internal/layout"
)

func newHost(t *testing.T) (*Host, *hooksync.Arena) {
	t.Helper()
	l := layout.Default()
	h, err := New(l, nil)
	if err != nil {
		t.Fatal(err)
	}
	arena := hooksync.NewArena(h.Memory(), h.Arch(), l.ArenaBase, int(l.ArenaSize), l.Gate, h.Dispatcher())
	return h, arena
}

// hook emits d and installs a trampoline at site leading to it.
func hook(t *testing.T, h *Host, arena *hooksync.Arena, site uintptr, shape hooksync.Shape, d *hooksync.Detour) *hooksync.Hook {
	t.Helper()
	stub, err := arena.Emit(d)
	if err != nil {
		t.Fatal(err)
	}
	size := len(d.Prologue)
	if size == 0 {
		size = hooksync.JmpLen
	}
	p := hooksync.Point{Source: site, Destination: stub.Addr, Code: hooksync.TrampolineFor(shape, size)}
	if ret, ok := stub.ReturnAddress(); ok {
		p.Return = ret
	}
	hk := hooksync.NewHook(d.Name, h.Memory(), p, nil)
	if err := hk.Enable(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hk.Disable() })
	return hk
}

func TestLoadLevelBuildsBoard(t *testing.T) {
	h, _ := newHost(t)
	if _, err := host.Board(h.Memory(), h.Layout()); !errors.Is(err, host.ErrNoBoard) {
		t.Fatalf("board before load: %v", err)
	}
	if err := h.LoadLevel(layout.OnlineLevelID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := host.Board(h.Memory(), h.Layout()); err != nil {
		t.Fatal(err)
	}
	if got := h.Resource(); got != DefaultResource {
		t.Errorf("resource %d", got)
	}
	if got := h.Planted(); len(got) != defaultSeed || got[0] {
		t.Errorf("planted %v", got)
	}
	for i := 0; i < 9; i++ {
		if got := h.Slot(i); got != int32(i) {
			t.Errorf("slot %d shows %d", i, got)
		}
	}
	if h.Level() != layout.OnlineLevelID {
		t.Errorf("level %#x", h.Level())
	}
}

func TestUnhookedFunctions(t *testing.T) {
	h, _ := newHost(t)
	if shown, err := h.RuntimeMenu(); err != nil || !shown {
		t.Errorf("runtime menu shown=%v err=%v", shown, err)
	}
	if paused, err := h.AutoPause(true); err != nil || !paused {
		t.Errorf("auto pause %v %v", paused, err)
	}
	if err := h.StartInstance(true); !errors.Is(err, ErrSingleInstance) {
		t.Errorf("got %v, want ErrSingleInstance", err)
	}
	if err := h.SpawnWave(1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := h.CreatePrimaryActor(4, 5, 6); err != nil {
		t.Fatal(err)
	}
	want := []Actor{{SecondaryActor, 1, 2, 3}, {PrimaryActor, 4, 5, 6}}
	got := h.Actors()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("actors %v, want %v", got, want)
	}
	if err := h.EndLevel(); err != nil || h.Ended() != 1 {
		t.Errorf("ended %d, %v", h.Ended(), err)
	}
}

func TestResumingDetour(t *testing.T) {
	h, arena := newHost(t)
	l := h.Layout()
	prologue, err := h.Arch().Relocate(h.Memory(), l.EndLevel, hooksync.JmpLen)
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	hook(t, h, arena, l.EndLevel, hooksync.ShapeJump, &hooksync.Detour{
		Name:     "end",
		Callback: func(*hooksync.Frame) { calls++ },
		Prologue: prologue,
		Resume:   true,
	})
	if err := h.EndLevel(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || h.Ended() != 1 {
		t.Errorf("calls %d, ended %d", calls, h.Ended())
	}
}

func TestBadPrologueFaults(t *testing.T) {
	h, arena := newHost(t)
	l := h.Layout()
	hook(t, h, arena, l.EndLevel, hooksync.ShapeJump, &hooksync.Detour{
		Name:     "end",
		Prologue: []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90},
		Resume:   true,
	})
	if err := h.EndLevel(); !errors.Is(err, ErrFault) {
		t.Fatalf("got %v, want ErrFault", err)
	}
}

func TestReplacingCall(t *testing.T) {
	h, arena := newHost(t)
	l := h.Layout()
	var seen []int32
	hook(t, h, arena, l.SecondarySpawnSite, hooksync.ShapeCall, &hooksync.Detour{
		Name:     "spawn",
		Callback: func(f *hooksync.Frame) { seen = append(seen, f.Arg(2)) },
		Replace:  true,
	})
	if err := h.SpawnWave(1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if len(h.Actors()) != 0 {
		t.Errorf("spawn not suppressed: %v", h.Actors())
	}
	if len(seen) != 1 || seen[0] != 3 {
		t.Errorf("callback saw %v", seen)
	}
	// direct creation does not pass the spawn site
	if err := h.CreateSecondaryActor(1, 2, 3); err != nil || len(h.Actors()) != 1 {
		t.Errorf("direct creation: %v, %v", h.Actors(), err)
	}
}

func TestJumpOut(t *testing.T) {
	h, _ := newHost(t)
	l := h.Layout()
	skip := hooksync.FormatJump(l.RuntimeMenu, l.RuntimeMenuSkip)
	if err := hooksync.AlterMemory(h.Memory(), l.RuntimeMenu, skip[:], nil); err != nil {
		t.Fatal(err)
	}
	if shown, err := h.RuntimeMenu(); err != nil || shown {
		t.Errorf("runtime menu shown=%v err=%v", shown, err)
	}

	ret := []byte{hooksync.OpRet}
	if err := hooksync.AlterMemory(h.Memory(), l.AutoPause, ret, nil); err != nil {
		t.Fatal(err)
	}
	if paused, _ := h.AutoPause(true); paused {
		t.Error("paused through a ret")
	}
}
