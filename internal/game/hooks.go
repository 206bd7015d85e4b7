package game

import (
	"sync"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/config"
	"github.com/k2io/hooksync/internal/layout"
	"github.com/k2io/hooksync/internal/mod"
	"github.com/k2io/hooksync/internal/protocol"
)

const (
	nameBeforeLoadLevel      = "Hook-Before-Load-Level"
	nameAfterLoadLevel       = "Hook-After-Load-Level"
	nameDisableRuntimeMenu   = "Disable-Runtime-Menu"
	nameInitSlots            = "Hook-Initialize-Slots"
	nameLevelEnd             = "Hook-Level-End"
	nameCreateSecondaryActor = "Hook-Create-Secondary-Actor"
	nameCreatePrimaryActor   = "Hook-Create-Primary-Actor"
)

// onlineLevel accepts the first load of the online level. The level loader
// and the site after it see (level id, first load).
func onlineLevel(f *hooksync.Frame) bool {
	return f.Arg(0) == layout.OnlineLevelID && f.Arg(1) == 1
}

func (s *Startup) detour(name string, at hooksync.Point, d hooksync.Detour) *detourMod {
	return newDetourMod(name, s.env.Arena, s.log, detourSite{at: at, detour: d})
}

// BeforeLoadLevel calls into the level loader entry. On the online level it
// replaces the running session with a new one.
func (s *Startup) BeforeLoadLevel() mod.Mod {
	return s.detour(nameBeforeLoadLevel, hooksync.Point{
		Source: s.env.Layout.LoadLevel,
		Code:   hooksync.TrampolineFor(hooksync.ShapeCall, hooksync.JmpLen),
	}, hooksync.Detour{
		Guard:    onlineLevel,
		Callback: func(*hooksync.Frame) { s.startLevel() },
	})
}

// AfterLoadLevel loads the level data mods once the board of the online
// level exists.
func (s *Startup) AfterLoadLevel() mod.Mod {
	return s.detour(nameAfterLoadLevel, hooksync.Point{
		Source: s.env.Layout.AfterLoadLevel,
		Code:   hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
	}, hooksync.Detour{
		Guard:    onlineLevel,
		Callback: func(*hooksync.Frame) { s.prepareLevel() },
		Resume:   true,
	})
}

// DisableRuntimeMenu jumps over the runtime menu check. It needs no detour.
func (s *Startup) DisableRuntimeMenu() mod.Mod {
	l := s.env.Layout
	return hooksync.NewHook(nameDisableRuntimeMenu, s.mem, hooksync.Point{
		Source:      l.RuntimeMenu,
		Destination: l.RuntimeMenuSkip,
		Code:        hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
	}, s.log)
}

// slotCounter counts the slot initializations of one level load.
type slotCounter struct {
	mu   sync.Mutex
	n    int
	done bool
}

// InitSlots writes the configured actor ids into the first nine slots
// initialized after it is created. Later initializations are left alone.
func (s *Startup) InitSlots() mod.Mod {
	c := &slotCounter{}
	return s.detour(nameInitSlots, hooksync.Point{
		Source: s.env.Layout.InitSlot,
		Code:   hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
	}, hooksync.Detour{
		Callback: func(f *hooksync.Frame) { s.initSlot(c, uintptr(uint32(f.Arg(0)))) },
		Resume:   true,
	})
}

func (s *Startup) initSlot(c *slotCounter, slot uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	player := s.env.Config.Player
	id := player.PrimarySlots[c.n]
	if s.env.Role == protocol.Secondary {
		id = player.SecondarySlots[c.n] + layout.SecondaryIDBase
	}
	if err := hooksync.WriteUint32(s.mem, slot+s.env.Layout.SlotID, uint32(id)); err != nil {
		s.log.Error("failed to set a slot", "slot", c.n, "err", err)
	}
	if c.n++; c.n == config.SlotCount {
		c.done = true
		c.n = 0
	}
}

// LevelEnd tells the peer the level ended.
func (s *Startup) LevelEnd() mod.Mod {
	return s.detour(nameLevelEnd, hooksync.Point{
		Source: s.env.Layout.EndLevel,
		Code:   hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
	}, hooksync.Detour{
		Callback: func(*hooksync.Frame) { s.sess.SendEnd() },
		Resume:   true,
	})
}

// secondaryActorSites differ by role. The Primary replaces the call in the
// wave spawner, so only actors the Secondary sends appear. The Secondary
// hooks the function itself and sends every actor it creates.
func (s *Startup) secondaryActorSites() hooksync.Table[protocol.Role, detourSite] {
	l := s.env.Layout
	return hooksync.Table[protocol.Role, detourSite]{
		protocol.Primary: {
			at: hooksync.Point{
				Source: l.SecondarySpawnSite,
				Code:   hooksync.TrampolineFor(hooksync.ShapeCall, hooksync.JmpLen),
			},
			detour: hooksync.Detour{
				Callback: func(f *hooksync.Frame) {
					s.log.Debug("spawn suppressed", "x", f.Arg(0), "y", f.Arg(1), "id", f.Arg(2))
				},
				Replace: true,
			},
		},
		protocol.Secondary: {
			at: hooksync.Point{
				Source: l.CreateSecondaryActor,
				Code:   hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
			},
			detour: hooksync.Detour{
				Callback: s.sendActor(protocol.NewSecondaryActor),
				Resume:   true,
			},
		},
	}
}

// CreateSecondaryActor hooks the secondary actor creation of the role.
func (s *Startup) CreateSecondaryActor() (mod.Mod, error) {
	site, err := s.secondaryActorSites().Resolve(s.env.Role)
	if err != nil {
		return nil, err
	}
	return newDetourMod(nameCreateSecondaryActor, s.env.Arena, s.log, site), nil
}

// CreatePrimaryActor sends every primary actor created. Only the Primary
// loads it.
func (s *Startup) CreatePrimaryActor() mod.Mod {
	return s.detour(nameCreatePrimaryActor, hooksync.Point{
		Source: s.env.Layout.CreatePrimaryActor,
		Code:   hooksync.TrampolineFor(hooksync.ShapeJump, hooksync.JmpLen),
	}, hooksync.Detour{
		Callback: s.sendActor(protocol.NewPrimaryActor),
		Resume:   true,
	})
}

func (s *Startup) sendActor(event protocol.EventType) hooksync.Callback {
	return func(f *hooksync.Frame) {
		s.sess.SendActor(event, f.Arg(0), f.Arg(1), f.Arg(2))
	}
}
