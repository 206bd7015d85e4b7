// Package config loads the INI file placed next to the host binary.
//
//	[Network]
//	ServerIP = 192.168.1.20
//	Port     = 10000
//
//	[Player]
//	PrimarySlots   = 0, 1, 2, 3, 4, 5, 6, 7, 8
//	SecondarySlots = 0, 1, 2, 3, 4, 5, 6, 7, 8
//	ResourceAmount = 10000
//
//	[Layout]
//	Symbols    = PlantsVsZombies.exe
//	EndLevel   = 0x00413400
//
//	[Status]
//	Listen = 127.0.0.1:9100
//
// Every key is optional.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/k2io/hooksync/internal/transport"
)

// DefaultFile is looked up in the working directory.
const DefaultFile = "online_config.ini"

const (
	DefaultPort           = 10000
	DefaultResourceAmount = 10000
	// SlotCount is the number of selection slots shown by the host.
	SlotCount = 9
)

var ErrBadValue = errors.New("bad config value")

// Slots holds one actor id per slot.
type Slots [SlotCount]int32

// DefaultSlots is 0 through 8.
var DefaultSlots = Slots{0, 1, 2, 3, 4, 5, 6, 7, 8}

type Network struct {
	// ServerIP is the address the Secondary connects to.
	ServerIP string
	// ListenIP is the address the Primary accepts on.
	ListenIP string
	Port     uint16
}

type Player struct {
	PrimarySlots   Slots
	SecondarySlots Slots
	ResourceAmount int32
}

type Layout struct {
	// Symbols is a host binary whose symbol table resolves addresses.
	Symbols string
	// Overrides maps layout field names to addresses.
	Overrides map[string]uint64
}

type Status struct {
	// Listen is the address of the status endpoint; empty disables it.
	Listen string
}

type Config struct {
	Network Network
	Player  Player
	Layout  Layout
	Status  Status
}

// Default returns the configuration used when the file has no keys.
func Default() Config {
	return Config{
		Network: Network{
			ServerIP: transport.LoopbackIP,
			ListenIP: transport.LoopbackIP,
			Port:     DefaultPort,
		},
		Player: Player{
			PrimarySlots:   DefaultSlots,
			SecondarySlots: DefaultSlots,
			ResourceAmount: DefaultResourceAmount,
		},
		Layout: Layout{Overrides: map[string]uint64{}},
	}
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads an INI document.
func Parse(data []byte) (Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()

	nw := f.Section("Network")
	if v := nw.Key("ServerIP").String(); v != "" {
		cfg.Network.ServerIP = v
	}
	if v := nw.Key("ListenIP").String(); v != "" {
		cfg.Network.ListenIP = v
	}
	if nw.HasKey("Port") {
		port, err := transport.ParsePort(nw.Key("Port").String())
		if err != nil {
			return Config{}, fmt.Errorf("%w: [Network] Port: %v", ErrBadValue, err)
		}
		cfg.Network.Port = port
	}

	player := f.Section("Player")
	for _, s := range []struct {
		key  string
		dest *Slots
	}{
		{"PrimarySlots", &cfg.Player.PrimarySlots},
		{"SecondarySlots", &cfg.Player.SecondarySlots},
	} {
		if !player.HasKey(s.key) {
			continue
		}
		if err := parseSlots(player.Key(s.key), s.dest); err != nil {
			return Config{}, err
		}
	}
	if player.HasKey("ResourceAmount") {
		n, err := player.Key("ResourceAmount").Int()
		if err != nil || n < 0 || int64(n) > 1<<31-1 {
			return Config{}, fmt.Errorf("%w: [Player] ResourceAmount %q", ErrBadValue, player.Key("ResourceAmount").String())
		}
		cfg.Player.ResourceAmount = int32(n)
	}

	layout := f.Section("Layout")
	for _, k := range layout.Keys() {
		if k.Name() == "Symbols" {
			cfg.Layout.Symbols = k.String()
			continue
		}
		addr, err := strconv.ParseUint(k.String(), 0, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: [Layout] %s %q", ErrBadValue, k.Name(), k.String())
		}
		cfg.Layout.Overrides[k.Name()] = addr
	}

	cfg.Status.Listen = f.Section("Status").Key("Listen").String()
	return cfg, nil
}

func parseSlots(k *ini.Key, dest *Slots) error {
	fields := k.Strings(",")
	if len(fields) != SlotCount {
		return fmt.Errorf("%w: [Player] %s has %d ids, want %d", ErrBadValue, k.Name(), len(fields), SlotCount)
	}
	for i, f := range fields {
		id, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: [Player] %s id %q", ErrBadValue, k.Name(), f)
		}
		dest[i] = int32(id)
	}
	return nil
}
