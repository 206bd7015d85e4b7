// Package mod registers and applies named modifications of the host.
package mod

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Mod is a named, reversible modification of host state.
type Mod interface {
	// Name is unique among the mods of a loader
	Name() string
	Enable() error
	Disable() error
}

var (
	// ErrNilMod means a nil mod was registered
	ErrNilMod = errors.New("mod is nil")
	// ErrDuplicate means a mod with the same name is already registered
	ErrDuplicate = errors.New("mod already registered")
)

// Loader enables mods in registration order.
type Loader struct {
	mu   sync.Mutex
	mods []Mod
	err  error
	log  *slog.Logger
	// told the name of every mod Load enables
	enabled func(name string)
}

// NewLoader creates an empty loader. A nil logger means slog.Default().
func NewLoader(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{log: log}
}

// Register appends m, failing on a nil mod or a name already registered.
// Names compare exactly.
func (l *Loader) Register(m Mod) error {
	if m == nil {
		return ErrNilMod
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cur := range l.mods {
		if cur.Name() == m.Name() {
			return fmt.Errorf("%w: %q", ErrDuplicate, m.Name())
		}
	}
	l.mods = append(l.mods, m)
	return nil
}

// Add is Register for chaining. The first failure is kept and returned by
// Err and Load; later mods are not registered.
func (l *Loader) Add(m Mod) *Loader {
	if l.Err() != nil {
		return l
	}
	if err := l.Register(m); err != nil {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}
	return l
}

// OnEnable sets a function told the name of every mod Load enables.
func (l *Loader) OnEnable(fn func(name string)) *Loader {
	l.mu.Lock()
	l.enabled = fn
	l.mu.Unlock()
	return l
}

// Err returns the first registration failure of Add.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Mods returns the registered mods in order.
func (l *Loader) Mods() []Mod {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Mod, len(l.mods))
	copy(out, l.mods)
	return out
}

// Load enables every mod in registration order. The first failure stops
// the sequence; mods already enabled stay enabled.
func (l *Loader) Load() error {
	if err := l.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	enabled := l.enabled
	l.mu.Unlock()
	for _, m := range l.Mods() {
		if err := m.Enable(); err != nil {
			return fmt.Errorf("enable %s: %w", m.Name(), err)
		}
		l.log.Debug("mod enabled", "mod", m.Name())
		if enabled != nil {
			enabled(m.Name())
		}
	}
	return nil
}

// Disable disables every mod in reverse order and returns the failures
// joined.
func (l *Loader) Disable() error {
	mods := l.Mods()
	var errs []error
	for i := len(mods) - 1; i >= 0; i-- {
		if err := mods[i].Disable(); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", mods[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
