// Package sim is an in-memory stand-in for the host process. Its address
// space holds the code bytes of the host functions the game package
// patches, and its functions are Go routines that, before running their
// own body, follow whatever is installed at their entry: a detour stub is
// dispatched like the host would execute it, a ret or a jump elsewhere
// replaces the body.
package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/config"
	"github.com/k2io/hooksync/internal/host"
	"github.com/k2io/hooksync/internal/layout"
)

const (
	ImageBase = 0x00400000
	ImageSize = 0x00400000

	heapBase    = 0x00790000
	appAddr     = heapBase
	boardAddr   = heapBase + 0x1000
	actorsAddr  = heapBase + 0x8000
	slotsAddr   = heapBase + 0x10000
	slotStride  = 0x50
	heapSize    = 0x20000
	maxPlanted  = 64
	defaultSeed = 3

	// DefaultResource is the resource amount of a fresh board.
	DefaultResource = 50
)

var (
	// ErrFault means the host would have crashed: a stub does not lead
	// back to the code it displaced.
	ErrFault = errors.New("host fault")
	// ErrSingleInstance means another instance is running and the check
	// was not patched.
	ErrSingleInstance = errors.New("another instance is running")
)

// Original code at the patched addresses of the supported build.
var (
	// mov eax, fs:[0]
	codeLoadLevel = []byte{0x64, 0xa1, 0x00, 0x00, 0x00, 0x00}
	// lea eax, [ebp-0x12c]
	codeAfterLoadLevel = []byte{0x8d, 0x85, 0xd4, 0xfe, 0xff, 0xff}
	// mov eax, [ebp+8]; test eax, eax; jz +0x10
	codeRuntimeMenu = []byte{0x8b, 0x45, 0x08, 0x85, 0xc0, 0x74, 0x10}
	// push -1; push 0x64ea08
	codeInitSlot = []byte{0x6a, 0xff, 0x68, 0x08, 0xea, 0x64, 0x00}
	// push ebp; mov ebp, esp; and esp, -8
	codeEndLevel = []byte{0x55, 0x8b, 0xec, 0x83, 0xe4, 0xf8}
	// push ebx; push ebp; mov ebp, [esp+0xc]
	codeCreateSecondary = []byte{0x53, 0x55, 0x8b, 0x6c, 0x24, 0x0c}
	// push ecx; push ebx; push ebp; mov ebp, [esp+0x10]
	codeCreatePrimary = []byte{0x51, 0x53, 0x55, 0x8b, 0x6c, 0x24, 0x10}
	// push ebp; mov ebp, esp; sub esp, 8
	codeAutoPause = []byte{0x55, 0x8b, 0xec, 0x83, 0xec, 0x08}
	// jnz +0x1a
	codeMultiProcess = []byte{0x75, 0x1a}
)

// Kind tells the two actor creation functions apart.
type Kind int

const (
	PrimaryActor Kind = iota
	SecondaryActor
)

func (k Kind) String() string {
	if k == PrimaryActor {
		return "primary"
	}
	return "secondary"
}

// Actor is one completed actor creation.
type Actor struct {
	Kind Kind
	X, Y int32
	ID   int32
}

// Host is a simulated host process.
type Host struct {
	img      *hooksync.Image
	arch     hooksync.Arch
	l        layout.Layout
	disp     *hooksync.Dispatcher
	log      *slog.Logger
	original map[uintptr][]byte
	funcs    map[uintptr]func(args []int32) error

	mu     sync.Mutex
	actors []Actor
	level  int32
	ended  int
}

var _ host.Host = (*Host)(nil)

// New maps a host image laid out per l. A nil logger means slog.Default().
func New(l layout.Layout, log *slog.Logger) (*Host, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		img:      hooksync.NewImage(ImageBase, ImageSize),
		arch:     hooksync.Arch386,
		l:        l,
		disp:     hooksync.NewDispatcher(log),
		log:      log,
		original: make(map[uintptr][]byte),
	}
	h.funcs = map[uintptr]func([]int32) error{
		l.CreatePrimaryActor:   func(a []int32) error { return h.CreatePrimaryActor(arg(a, 0), arg(a, 1), arg(a, 2)) },
		l.CreateSecondaryActor: func(a []int32) error { return h.CreateSecondaryActor(arg(a, 0), arg(a, 1), arg(a, 2)) },
		l.EndLevel:             func([]int32) error { return h.EndLevel() },
	}

	spawn := hooksync.FormatCall(l.SecondarySpawnSite, l.CreateSecondaryActor)
	for _, c := range []struct {
		addr uintptr
		code []byte
	}{
		{l.LoadLevel, codeLoadLevel},
		{l.AfterLoadLevel, codeAfterLoadLevel},
		{l.RuntimeMenu, codeRuntimeMenu},
		{l.InitSlot, codeInitSlot},
		{l.EndLevel, codeEndLevel},
		{l.CreateSecondaryActor, codeCreateSecondary},
		{l.SecondarySpawnSite, spawn[:]},
		{l.CreatePrimaryActor, codeCreatePrimary},
		{l.AutoPause, codeAutoPause},
		{l.MultiProcess, codeMultiProcess},
		{l.Gate, []byte{hooksync.OpRet}},
	} {
		if err := h.img.Load(c.code, c.addr); err != nil {
			return nil, fmt.Errorf("map %#x: %w", c.addr, err)
		}
		h.original[c.addr] = c.code
	}
	if err := h.put32(l.Base, appAddr); err != nil {
		return nil, err
	}
	// data is writable, code is not
	if err := h.img.Protect(l.Base, 4); err != nil {
		return nil, err
	}
	if err := h.img.Protect(heapBase, heapSize); err != nil {
		return nil, err
	}
	return h, nil
}

func arg(a []int32, i int) int32 {
	if i < len(a) {
		return a[i]
	}
	return 0
}

func (h *Host) Memory() hooksync.Memory { return h.img }

func (h *Host) Image() *hooksync.Image { return h.img }

func (h *Host) Arch() hooksync.Arch { return h.arch }

func (h *Host) Layout() layout.Layout { return h.l }

// Dispatcher is what the callback gate of this host forwards to.
func (h *Host) Dispatcher() *hooksync.Dispatcher { return h.disp }

// put32 writes host data; the host writes its own memory regardless of
// page protection.
func (h *Host) put32(addr uintptr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return h.img.Load(b[:], addr)
}

func (h *Host) get32(addr uintptr) uint32 {
	v, _ := hooksync.ReadUint32(h.img, addr)
	return v
}

// step is what happened at a site before the body of a host function.
type step struct {
	// the code at the site did not run
	skip bool
	// execution left for target, outside any stub or function
	jumped bool
	target uintptr
}

func (h *Host) enter(site uintptr, args []int32) (step, error) {
	var code [hooksync.JmpLen]byte
	if err := h.img.ReadAt(code[:], site); err != nil {
		return step{}, err
	}
	switch code[0] {
	case hooksync.OpRet:
		return step{skip: true}, nil
	case hooksync.OpCall, hooksync.OpJmp:
	default:
		return step{}, nil
	}
	target, err := h.arch.DecodeBranch(code[:], site)
	if err != nil {
		return step{}, err
	}
	if stub, ok := h.disp.Lookup(target); ok {
		return h.detour(site, code[0], stub, args)
	}
	if fn, ok := h.funcs[target]; ok {
		if code[0] == hooksync.OpJmp {
			// a thunk in front of a function
			return h.enter(target, args)
		}
		return step{skip: true}, fn(args)
	}
	return step{skip: true, jumped: true, target: target}, nil
}

// detour executes a stub reached from site by a call or a jmp.
func (h *Host) detour(site uintptr, op byte, stub *hooksync.Stub, args []int32) (step, error) {
	ran, err := h.disp.Invoke(stub.ID, &hooksync.Frame{Args: args})
	if err != nil {
		return step{}, err
	}
	d := stub.Detour
	if len(d.Prologue) > 0 && !bytes.HasPrefix(h.original[site], d.Prologue) {
		return step{}, fmt.Errorf("%w: %s runs % x, displaced % x", ErrFault, d.Name, d.Prologue, h.original[site])
	}
	if op == hooksync.OpCall {
		// the stub returns right past the call
		return step{skip: d.Replace && ran}, nil
	}
	if !d.Resume {
		// the stub returns from the hooked function
		return step{skip: true}, nil
	}
	ret, _ := stub.ReturnAddress()
	var back [hooksync.JmpLen]byte
	if err := h.img.ReadAt(back[:], ret); err != nil {
		return step{}, err
	}
	to, err := h.arch.DecodeBranch(back[:], ret)
	if err != nil {
		return step{}, fmt.Errorf("%w: %s return slot % x", ErrFault, d.Name, back)
	}
	if want := site + uintptr(len(d.Prologue)); to != want {
		return step{}, fmt.Errorf("%w: %s returns to %#x, want %#x", ErrFault, d.Name, to, want)
	}
	return step{}, nil
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// LoadLevel builds the board of level id.
func (h *Host) LoadLevel(id int32, first bool) error {
	args := []int32{id, b2i(first)}
	st, err := h.enter(h.l.LoadLevel, args)
	if err != nil || st.skip {
		return err
	}

	h.mu.Lock()
	h.level = id
	h.mu.Unlock()
	if err := h.put32(appAddr+h.l.BoardOffset, boardAddr); err != nil {
		return err
	}
	if err := h.put32(boardAddr+h.l.ResourceOffset, DefaultResource); err != nil {
		return err
	}
	if err := h.put32(boardAddr+h.l.ActorsOffset, actorsAddr); err != nil {
		return err
	}
	if err := h.put32(boardAddr+h.l.ActorCountOffset, 0); err != nil {
		return err
	}
	for i := int32(0); i < defaultSeed; i++ {
		if err := h.plant(i, 2, i); err != nil {
			return err
		}
	}
	if st, err := h.enter(h.l.AfterLoadLevel, args); err != nil || st.skip {
		return err
	}
	// the selection slots come up once the board is ready
	for i := 0; i < config.SlotCount; i++ {
		if err := h.InitSlot(i); err != nil {
			return err
		}
	}
	return nil
}

func slotAddr(i int) uintptr {
	return slotsAddr + uintptr(i)*slotStride
}

// InitSlot initializes selection slot i, as the host does when the slots
// come up.
func (h *Host) InitSlot(i int) error {
	addr := slotAddr(i)
	if err := h.put32(addr+h.l.SlotID, uint32(i)); err != nil {
		return err
	}
	st, err := h.enter(h.l.InitSlot, []int32{int32(addr)})
	if err != nil || st.skip {
		return err
	}
	if err := h.put32(addr+h.l.SlotX, uint32(80+i*60)); err != nil {
		return err
	}
	return h.put32(addr+h.l.SlotY, 10)
}

// Slot returns the actor id shown in slot i.
func (h *Host) Slot(i int) int32 {
	return int32(h.get32(slotAddr(i) + h.l.SlotID))
}

// plant appends a planted actor to the board array.
func (h *Host) plant(x, y, id int32) error {
	n := h.get32(boardAddr + h.l.ActorCountOffset)
	if n >= maxPlanted {
		return nil
	}
	rec := make([]byte, h.l.PlantedActorSize)
	binary.LittleEndian.PutUint32(rec[0:], uint32(x))
	binary.LittleEndian.PutUint32(rec[4:], uint32(y))
	binary.LittleEndian.PutUint32(rec[8:], uint32(id))
	if err := h.img.Load(rec, actorsAddr+uintptr(n)*h.l.PlantedActorSize); err != nil {
		return err
	}
	return h.put32(boardAddr+h.l.ActorCountOffset, n+1)
}

// Planted returns the invalid flag of every planted actor.
func (h *Host) Planted() []bool {
	n := h.get32(boardAddr + h.l.ActorCountOffset)
	flags := make([]bool, n)
	for i := range flags {
		b := h.img.Bytes(actorsAddr+uintptr(i)*h.l.PlantedActorSize+h.l.PlantedActorInvalid, 1)
		flags[i] = len(b) == 1 && b[0] != 0
	}
	return flags
}

// Resource returns the resource amount of the board.
func (h *Host) Resource() int32 {
	return int32(h.get32(boardAddr + h.l.ResourceOffset))
}

// RuntimeMenu reports whether the in-level menu opens.
func (h *Host) RuntimeMenu() (bool, error) {
	st, err := h.enter(h.l.RuntimeMenu, nil)
	if err != nil {
		return false, err
	}
	if st.jumped && st.target == h.l.RuntimeMenuSkip {
		return false, nil
	}
	if st.jumped {
		return false, fmt.Errorf("%w: runtime menu jumps to %#x", ErrFault, st.target)
	}
	return true, nil
}

// AutoPause reports whether losing focus pauses the level.
func (h *Host) AutoPause(focusLost bool) (bool, error) {
	st, err := h.enter(h.l.AutoPause, nil)
	if err != nil || st.skip {
		return false, err
	}
	return focusLost, nil
}

// StartInstance runs the single instance check.
func (h *Host) StartInstance(otherRunning bool) error {
	b := h.img.Bytes(h.l.MultiProcess, 1)
	if len(b) == 1 && b[0] == codeMultiProcess[0] && otherRunning {
		return ErrSingleInstance
	}
	return nil
}

// CreatePrimaryActor is the host function placing a primary actor.
func (h *Host) CreatePrimaryActor(x, y, id int32) error {
	st, err := h.enter(h.l.CreatePrimaryActor, []int32{x, y, id})
	if err != nil || st.skip {
		return err
	}
	if err := h.plant(x, y, id); err != nil {
		return err
	}
	h.record(Actor{PrimaryActor, x, y, id})
	return nil
}

// CreateSecondaryActor is the host function spawning a secondary actor.
func (h *Host) CreateSecondaryActor(x, y, id int32) error {
	st, err := h.enter(h.l.CreateSecondaryActor, []int32{x, y, id})
	if err != nil || st.skip {
		return err
	}
	h.record(Actor{SecondaryActor, x, y, id})
	return nil
}

// SpawnWave is the host's own spawner. It reaches CreateSecondaryActor
// through the call at the spawn site.
func (h *Host) SpawnWave(x, y, id int32) error {
	_, err := h.enter(h.l.SecondarySpawnSite, []int32{x, y, id})
	return err
}

// EndLevel ends the current level.
func (h *Host) EndLevel() error {
	st, err := h.enter(h.l.EndLevel, nil)
	if err != nil || st.skip {
		return err
	}
	h.mu.Lock()
	h.ended++
	h.mu.Unlock()
	return nil
}

func (h *Host) record(a Actor) {
	h.mu.Lock()
	h.actors = append(h.actors, a)
	h.mu.Unlock()
	h.log.Debug("actor created", "kind", a.Kind.String(), "x", a.X, "y", a.Y, "id", a.ID)
}

// Actors returns the actors created so far.
func (h *Host) Actors() []Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Actor(nil), h.actors...)
}

// Ended counts completed EndLevel calls.
func (h *Host) Ended() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

// Level is the last level loaded.
func (h *Host) Level() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}
