// Package host describes the process being modified.
package host

import (
	"errors"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/layout"
)

// Host is the address space of the host process plus the host functions
// the session replays peer events with.
type Host interface {
	Memory() hooksync.Memory
	Arch() hooksync.Arch
	CreatePrimaryActor(x, y, id int32) error
	CreateSecondaryActor(x, y, id int32) error
	EndLevel() error
}

// ErrNoBoard means no level is loaded.
var ErrNoBoard = errors.New("no board")

// Board follows the application pointer to the board of the current level.
func Board(mem hooksync.Memory, l layout.Layout) (uintptr, error) {
	app, err := hooksync.ReadUint32(mem, l.Base)
	if err != nil {
		return 0, err
	}
	if app == 0 {
		return 0, ErrNoBoard
	}
	board, err := hooksync.ReadUint32(mem, uintptr(app)+l.BoardOffset)
	if err != nil {
		return 0, err
	}
	if board == 0 {
		return 0, ErrNoBoard
	}
	return uintptr(board), nil
}
