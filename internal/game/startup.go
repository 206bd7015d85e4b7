// Package game holds the patches applied to the host and the startup
// sequence that loads them.
//
// Run installs the boot mods. Loading the online level then starts a
// session: the level mods are loaded, the peers connect and the receive
// loop replays peer events through the host functions.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/config"
	"github.com/k2io/hooksync/internal/host"
	"github.com/k2io/hooksync/internal/layout"
	"github.com/k2io/hooksync/internal/metrics"
	"github.com/k2io/hooksync/internal/mod"
	"github.com/k2io/hooksync/internal/protocol"
	"github.com/k2io/hooksync/internal/session"
)

// ErrStarted means Run was called twice without Stop.
var ErrStarted = errors.New("startup already running")

// Env is what the patches work on.
type Env struct {
	Host   host.Host
	Layout layout.Layout
	Config config.Config
	Role   protocol.Role
	// Arena emits the detour stubs into host memory.
	Arena   *hooksync.Arena
	Log     *slog.Logger
	Metrics *metrics.Metrics
	// Notify shows a failure to the user. Nil only logs it.
	Notify func(msg string)
}

// Startup owns the session and the loaders of one host process.
type Startup struct {
	env  Env
	mem  hooksync.Memory
	log  *slog.Logger
	sess *session.Session

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	boot  *mod.Loader
	level *mod.Loader
	after *mod.Loader
}

// NewStartup creates the session of env.Role. opts are passed on to the
// session after the logger and metrics of env.
func NewStartup(env Env, opts ...session.Option) *Startup {
	if env.Log == nil {
		env.Log = slog.Default()
	}
	s := &Startup{env: env, mem: env.Host.Memory(), log: env.Log}
	opts = append([]session.Option{
		session.WithLogger(env.Log),
		session.WithMetrics(env.Metrics),
	}, opts...)
	s.sess = session.New(env.Role, env.Config.Network, effects{env.Host, env.Log}, opts...)
	env.Arena.Dispatcher().OnCall(env.Metrics.DetourCalled)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Startup) Session() *session.Session { return s.sess }

func (s *Startup) loader() *mod.Loader {
	return mod.NewLoader(s.log).OnEnable(s.env.Metrics.ModEnabled)
}

// Run loads the boot mods. ctx bounds session establishment for the life of
// the startup. A failure leaves nothing installed.
func (s *Startup) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.boot != nil {
		s.mu.Unlock()
		return ErrStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	boot := s.loader().
		Add(AllowMultiProcess(s.mem, s.env.Layout)).
		Add(s.BeforeLoadLevel()).
		Add(s.AfterLoadLevel())
	s.boot = boot
	s.mu.Unlock()

	if err := boot.Load(); err != nil {
		if derr := boot.Disable(); derr != nil {
			s.log.Error("failed to unload boot mods", "err", derr)
		}
		s.mu.Lock()
		s.boot = nil
		s.mu.Unlock()
		return fmt.Errorf("load mods: %w", err)
	}
	s.log.Info("mods loaded", "role", s.env.Role.String())
	return nil
}

// Stop ends the session and unloads every mod, level mods first.
func (s *Startup) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	loaders := []*mod.Loader{s.after, s.level, s.boot}
	s.after, s.level, s.boot = nil, nil, nil
	s.mu.Unlock()

	cancel()
	s.sess.Stop(true)
	var errs []error
	for _, l := range loaders {
		if l != nil {
			errs = append(errs, l.Disable())
		}
	}
	return errors.Join(errs...)
}

// swap makes next the loader held in *cur and unloads the previous one.
func (s *Startup) swap(cur **mod.Loader, next *mod.Loader) {
	s.mu.Lock()
	prev := *cur
	*cur = next
	s.mu.Unlock()
	if prev != nil {
		if err := prev.Disable(); err != nil {
			s.log.Warn("failed to unload mods", "err", err)
		}
	}
}

func (s *Startup) fail(err error) {
	msg := fmt.Sprintf("Failed to start an online battle: %v", err)
	s.log.Error(msg)
	if s.env.Notify != nil {
		s.env.Notify(msg)
	}
}

// startLevel runs on the host thread when the online level starts loading.
func (s *Startup) startLevel() {
	s.sess.Stop(true)

	end := s.LevelEnd()
	secondary, err := s.CreateSecondaryActor()
	if err != nil {
		s.fail(err)
		return
	}
	level := s.loader().
		Add(DisableAutoPause(s.mem, s.env.Layout)).
		Add(s.DisableRuntimeMenu()).
		Add(end).
		Add(secondary)
	if s.env.Role == protocol.Primary {
		level.Add(s.CreatePrimaryActor())
	}
	s.swap(&s.level, level)
	if err := level.Load(); err != nil {
		s.fail(err)
		return
	}
	s.sess.SetTermination(end)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if err := s.sess.Establish(ctx); err != nil {
		s.fail(err)
		return
	}
	if err := s.sess.Start(); err != nil {
		s.sess.Stop(false)
		s.fail(err)
	}
}

// prepareLevel runs on the host thread once the board of the online level
// exists.
func (s *Startup) prepareLevel() {
	after := s.loader().
		Add(SetResourceAmount(s.mem, s.env.Layout, s.env.Config.Player.ResourceAmount)).
		Add(RemoveDefaultActors(s.mem, s.env.Layout)).
		Add(s.InitSlots())
	s.swap(&s.after, after)
	if err := after.Load(); err != nil {
		s.sess.Stop(true)
		s.fail(err)
	}
}

// effects replays peer events through the host functions.
type effects struct {
	h   host.Host
	log *slog.Logger
}

func (e effects) CreatePrimaryActor(x, y, id int32) {
	if err := e.h.CreatePrimaryActor(x, y, id); err != nil {
		e.log.Error("failed to create a primary actor", "err", err)
	}
}

func (e effects) CreateSecondaryActor(x, y, id int32) {
	if err := e.h.CreateSecondaryActor(x, y, id); err != nil {
		e.log.Error("failed to create a secondary actor", "err", err)
	}
}

func (e effects) EndLevel() {
	if err := e.h.EndLevel(); err != nil {
		e.log.Error("failed to end the level", "err", err)
	}
}
