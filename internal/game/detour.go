package game

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/k2io/hooksync"
)

// detourSite is everything a detour hook is built from: where it is
// installed, the trampoline shape and the detour with its resume or replace
// mode.
type detourSite struct {
	at     hooksync.Point
	detour hooksync.Detour
}

// detourMod hooks a site with a stub emitted when the mod is enabled. The
// instructions the trampoline displaces are relocated into the stub unless
// the detour replaces them.
type detourMod struct {
	name  string
	arena *hooksync.Arena
	log   *slog.Logger
	site  detourSite

	mu   sync.Mutex
	hook *hooksync.Hook
}

func newDetourMod(name string, arena *hooksync.Arena, log *slog.Logger, site detourSite) *detourMod {
	site.detour.Name = name
	return &detourMod{name: name, arena: arena, log: log, site: site}
}

func (m *detourMod) Name() string { return m.name }

func (m *detourMod) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hook != nil {
		return nil
	}
	mem, arch := m.arena.Memory(), m.arena.Arch()
	from := m.site.at.Source

	d := m.site.detour
	code := m.site.at.Code
	if !d.Replace {
		prologue, err := arch.Relocate(mem, from, hooksync.JmpLen)
		if err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		d.Prologue = prologue
		code = hooksync.TrampolineFor(code.Shape(), len(prologue))
	}
	stub, err := m.arena.Emit(&d)
	if err != nil {
		return err
	}
	// the branch goes to the real entry of the detour, past any thunk
	to, err := arch.EntryAddress(mem, stub.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	p := hooksync.Point{Source: from, Destination: to, Code: code}
	if ret, ok := stub.ReturnAddress(); ok {
		p.Return = to + (ret - stub.Addr)
	}
	h := hooksync.NewHook(m.name, mem, p, m.log)
	if err := h.Enable(); err != nil {
		return err
	}
	m.hook = h
	return nil
}

func (m *detourMod) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hook == nil {
		return nil
	}
	if err := m.hook.Disable(); err != nil {
		return err
	}
	m.hook = nil
	return nil
}
