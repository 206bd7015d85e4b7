package game

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/host"
	"github.com/k2io/hooksync/internal/layout"
	"github.com/k2io/hooksync/internal/mod"
)

const (
	nameSetResourceAmount   = "Set-Resource-Amount"
	nameDisableAutoPause    = "Disable-Auto-Pause"
	nameRemoveDefaultActors = "Remove-Default-Actors"
	nameAllowMultiProcess   = "Allow-Multi-Process"
)

// ErrEmptyPath means no executable was named.
var ErrEmptyPath = errors.New("executable path is empty")

// patch writes fixed bytes over host code and restores them on Disable.
type patch struct {
	name string
	mem  hooksync.Memory
	addr uintptr
	code []byte

	mu     sync.Mutex
	origin []byte
}

func (p *patch) Name() string { return p.name }

func (p *patch) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.origin != nil {
		return nil
	}
	origin := make([]byte, len(p.code))
	if err := hooksync.AlterMemory(p.mem, p.addr, p.code, origin); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.origin = origin
	return nil
}

func (p *patch) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.origin == nil {
		return nil
	}
	if err := hooksync.AlterMemory(p.mem, p.addr, p.origin, nil); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.origin = nil
	return nil
}

// DisableAutoPause makes the pause check return at once.
func DisableAutoPause(mem hooksync.Memory, l layout.Layout) mod.Mod {
	return &patch{
		name: nameDisableAutoPause,
		mem:  mem,
		addr: l.AutoPause,
		code: []byte{hooksync.OpRet, hooksync.OpNop, hooksync.OpNop, hooksync.OpNop, hooksync.OpNop},
	}
}

// AllowMultiProcess turns the conditional jump of the single instance check
// into a short jmp in the running host.
func AllowMultiProcess(mem hooksync.Memory, l layout.Layout) mod.Mod {
	return &patch{
		name: nameAllowMultiProcess,
		mem:  mem,
		addr: l.MultiProcess,
		code: []byte{hooksync.OpShortJmp},
	}
}

// PatchExecutable applies AllowMultiProcess to the host executable on disk.
func PatchExecutable(path string, l layout.Layout) error {
	if path == "" {
		return ErrEmptyPath
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if int64(l.MultiProcessRaw) >= fi.Size() {
		return fmt.Errorf("%s: offset %#x past end of %s", nameAllowMultiProcess, l.MultiProcessRaw, path)
	}
	if _, err := f.WriteAt([]byte{hooksync.OpShortJmp}, int64(l.MultiProcessRaw)); err != nil {
		return err
	}
	return f.Close()
}

// Level data mods change the board of the loaded level. Their Disable does
// nothing: the next level load builds a new board.
type levelData struct {
	name  string
	apply func(board uintptr) error
	mem   hooksync.Memory
	l     layout.Layout
}

func (d *levelData) Name() string { return d.name }

// Enable does nothing when no level is loaded.
func (d *levelData) Enable() error {
	board, err := host.Board(d.mem, d.l)
	if errors.Is(err, host.ErrNoBoard) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	if err := d.apply(board); err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	return nil
}

func (d *levelData) Disable() error { return nil }

// SetResourceAmount sets the resource amount of the board.
func SetResourceAmount(mem hooksync.Memory, l layout.Layout, amount int32) mod.Mod {
	return &levelData{
		name: nameSetResourceAmount,
		mem:  mem,
		l:    l,
		apply: func(board uintptr) error {
			return hooksync.WriteUint32(mem, board+l.ResourceOffset, uint32(amount))
		},
	}
}

// RemoveDefaultActors flags every actor planted at level load invalid.
func RemoveDefaultActors(mem hooksync.Memory, l layout.Layout) mod.Mod {
	return &levelData{
		name: nameRemoveDefaultActors,
		mem:  mem,
		l:    l,
		apply: func(board uintptr) error {
			n, err := hooksync.ReadUint32(mem, board+l.ActorCountOffset)
			if err != nil {
				return err
			}
			begin, err := hooksync.ReadUint32(mem, board+l.ActorsOffset)
			if err != nil {
				return err
			}
			for i := uintptr(0); i < uintptr(n); i++ {
				flag := uintptr(begin) + i*l.PlantedActorSize + l.PlantedActorInvalid
				if err := mem.WriteAt([]byte{1}, flag); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
