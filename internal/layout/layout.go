// Package layout holds the addresses and structure offsets of one host
// binary build. The engine is agnostic to them; they are data.
package layout

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Layout addresses are virtual addresses in the host image unless noted.
type Layout struct {
	// pointer to the application object
	Base uintptr
	// application -> board
	BoardOffset uintptr
	// board -> resource amount
	ResourceOffset uintptr
	// board -> planted actor array, and its length
	ActorsOffset     uintptr
	ActorCountOffset uintptr

	// level loader entry, called with (level id, first load)
	LoadLevel uintptr
	// mid-function site run once the level is loaded
	AfterLoadLevel uintptr
	// runtime menu check and the address that skips it
	RuntimeMenu     uintptr
	RuntimeMenuSkip uintptr
	// initializer of one selection slot
	InitSlot uintptr
	EndLevel uintptr
	// secondary actor creation and the call inside the wave spawner that
	// reaches it
	CreateSecondaryActor uintptr
	SecondarySpawnSite   uintptr
	CreatePrimaryActor   uintptr
	// periodic pause check
	AutoPause uintptr
	// single instance check, in memory and as a file offset
	MultiProcess    uintptr
	MultiProcessRaw uintptr

	// callback gate and the executable range reserved for detour stubs
	Gate      uintptr
	ArenaBase uintptr
	ArenaSize uintptr

	// slot structure
	SlotX  uintptr
	SlotY  uintptr
	SlotID uintptr
	// planted actor structure size and its invalid flag
	PlantedActorSize    uintptr
	PlantedActorInvalid uintptr
}

const (
	// OnlineLevelID is the level the session runs in.
	OnlineLevelID = 0x46
	// SecondaryIDBase is added to secondary actor ids shown in slots.
	SecondaryIDBase = 0x3C
)

// Default is the layout of the supported host build.
func Default() Layout {
	return Layout{
		Base:             0x006A9F38,
		BoardOffset:      0x768,
		ResourceOffset:   0x5560,
		ActorsOffset:     0xAC,
		ActorCountOffset: 0xB0,

		LoadLevel:            0x0044F560,
		AfterLoadLevel:       0x0042F7BC,
		RuntimeMenu:          0x00450102,
		RuntimeMenuSkip:      0x0045016A,
		InitSlot:             0x00488220,
		EndLevel:             0x00413400,
		CreateSecondaryActor: 0x0042A0F0,
		SecondarySpawnSite:   0x0042A425,
		CreatePrimaryActor:   0x0040D120,
		AutoPause:            0x0044F478,
		MultiProcess:         0x00553F1B,
		MultiProcessRaw:      0x00153F1B,

		Gate:      0x0077F000,
		ArenaBase: 0x00780000,
		ArenaSize: 0x4000,

		SlotX:  0x8,
		SlotY:  0xC,
		SlotID: 0x34,

		PlantedActorSize:    0x14C,
		PlantedActorInvalid: 0x141,
	}
}

// ErrUnknownField means an override names no layout field.
var ErrUnknownField = errors.New("unknown layout field")

// Apply sets fields by name. Names are exact field names.
func (l *Layout) Apply(values map[string]uint64) error {
	v := reflect.ValueOf(l).Elem()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := v.FieldByName(name)
		if !f.IsValid() || f.Kind() != reflect.Uintptr {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		f.SetUint(values[name])
	}
	return nil
}

// ApplySymbols sets every field whose name is a symbol of syms and
// returns the names set.
func (l *Layout) ApplySymbols(syms map[string]uintptr) []string {
	values := make(map[string]uint64)
	t := reflect.TypeOf(*l)
	for i := 0; i < t.NumField(); i++ {
		if addr, ok := syms[t.Field(i).Name]; ok {
			values[t.Field(i).Name] = uint64(addr)
		}
	}
	if err := l.Apply(values); err != nil {
		// names come from the struct itself
		panic(err)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
