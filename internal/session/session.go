// Package session runs one synchronized session between the peers: the
// connection, the background receive loop and the senders called from
// detours.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/k2io/hooksync/internal/config"
	"github.com/k2io/hooksync/internal/metrics"
	"github.com/k2io/hooksync/internal/mod"
	"github.com/k2io/hooksync/internal/protocol"
	"github.com/k2io/hooksync/internal/transport"
)

const tracerName = "github.com/k2io/hooksync/internal/session"

// Effects applies mirrored events to the local host. The calls run on the
// receive goroutine.
type Effects interface {
	CreatePrimaryActor(x, y, id int32)
	CreateSecondaryActor(x, y, id int32)
	EndLevel()
}

// State is the lifecycle of the receive loop.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrNotEstablished means Start was called without a connection
	ErrNotEstablished = errors.New("session not established")
	// ErrRunning means the receive loop is already running
	ErrRunning = errors.New("session already running")
	// ErrSessionEnded is returned by Process for a SessionEnd packet
	ErrSessionEnded = errors.New("session ended by peer")
)

// Session is the explicit session context shared by the hooks that send
// events and the loop that receives them. The role and network settings
// are fixed at construction. The connection is written only by Establish
// and Stop, under mu; readers take the read lock.
type Session struct {
	role protocol.Role
	net  config.Network
	fx   Effects
	log  *slog.Logger
	m    *metrics.Metrics
	tr   trace.Tracer

	mu     sync.RWMutex
	conn   *transport.Conn
	ln     *transport.Listener
	term   mod.Mod
	cancel context.CancelFunc
	done   chan struct{}

	sendMu    sync.Mutex
	state     atomic.Int32
	peerEnded atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.m = m }
}

// WithTracer sets the tracer, the global provider's otherwise.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Session) { s.tr = tr }
}

// New creates an idle session.
func New(role protocol.Role, network config.Network, fx Effects, opts ...Option) *Session {
	s := &Session{role: role, net: network, fx: fx}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.tr == nil {
		s.tr = otel.Tracer(tracerName)
	}
	s.log = s.log.With("role", role.String())
	return s
}

func (s *Session) Role() protocol.Role { return s.role }

func (s *Session) Network() config.Network { return s.net }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.m.SetSessionState(int(st))
}

// Connected reports whether the session holds a valid connection.
func (s *Session) Connected() bool {
	return s.current().Valid()
}

// Peer returns the remote address, or "" without a connection.
func (s *Session) Peer() string {
	return s.current().RemoteAddr()
}

func (s *Session) current() *transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// SetTermination sets the mod disabled when the peer ends the session, so
// ending the level locally does not echo SessionEnd back.
func (s *Session) SetTermination(m mod.Mod) {
	s.mu.Lock()
	s.term = m
	s.mu.Unlock()
}

// Establish opens the connection of the session: the Primary listens on
// ListenIP:Port and accepts one peer, the Secondary connects to
// ServerIP:Port. It blocks until then, ctx is done or Stop is called. On
// failure no connection is kept.
func (s *Session) Establish(ctx context.Context) (err error) {
	ctx, span := s.tr.Start(ctx, "session.establish",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("hooksync.role", s.role.String()),
			attribute.Int("hooksync.port", int(s.net.Port)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.m.Session(s.role.String(), "error")
		} else {
			span.SetStatus(codes.Ok, "")
			s.m.Session(s.role.String(), "ok")
		}
		span.End()
	}()

	if s.Connected() {
		return fmt.Errorf("establish: %w", ErrRunning)
	}
	s.peerEnded.Store(false)

	var conn *transport.Conn
	switch s.role {
	case protocol.Primary:
		conn, err = s.accept(ctx)
	case protocol.Secondary:
		conn, err = s.connect(ctx)
	default:
		err = fmt.Errorf("establish: unknown %v", s.role)
	}
	if err != nil {
		s.m.TransportError("establish")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	span.SetAttributes(attribute.String("hooksync.peer", conn.RemoteAddr()))
	s.log.Info("session established", "peer", conn.RemoteAddr())
	return nil
}

func (s *Session) accept(ctx context.Context) (*transport.Conn, error) {
	addr, err := transport.NewAddr(s.net.ListenIP, s.net.Port)
	if err != nil {
		return nil, err
	}
	ln := &transport.Listener{}
	if err := ln.Bind(addr); err != nil {
		return nil, err
	}
	if err := ln.Listen(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.ln == ln {
			s.ln = nil
		}
		s.mu.Unlock()
		ln.Close()
	}()

	s.log.Info("waiting for peer", "addr", ln.Addr())
	return ln.Accept(ctx)
}

func (s *Session) connect(ctx context.Context) (*transport.Conn, error) {
	addr, err := transport.NewAddr(s.net.ServerIP, s.net.Port)
	if err != nil {
		return nil, err
	}
	s.log.Info("connecting to peer", "addr", addr.String())
	return transport.Dial(ctx, addr)
}

// Start launches the receive loop on the established connection.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.conn.Valid() {
		return ErrNotEstablished
	}
	if s.done != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(Running)
	go s.loop(ctx, s.conn, s.done)
	return nil
}

// Done is closed when the current receive loop exits. It is nil when no
// loop was started.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

func (s *Session) loop(ctx context.Context, conn *transport.Conn, done chan struct{}) {
	defer func() {
		s.teardown(done, false)
		if s.state.CompareAndSwap(int32(Stopping), int32(Idle)) {
			s.m.SetSessionState(int(Idle))
		}
		close(done)
	}()

	for ctx.Err() == nil {
		pkt, err := protocol.Recv(conn)
		if err != nil {
			if ctx.Err() == nil {
				s.m.TransportError("recv")
				s.log.Warn("failed to receive a packet", "err", err)
			}
			return
		}
		if err := s.dispatch(pkt); err != nil {
			if !errors.Is(err, ErrSessionEnded) {
				s.log.Error("failed to process a packet", "err", err)
			}
			return
		}
	}
}

// dispatch is the outer boundary of the loop: a panic in an effect is
// reported like any other error.
func (s *Session) dispatch(pkt *protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect panicked: %v", r)
		}
	}()
	return s.Process(pkt)
}

// Process applies one received packet. A SessionEnd disables the
// termination mod, ends the level and returns ErrSessionEnded.
func (s *Session) Process(pkt *protocol.Packet) error {
	msg, err := protocol.Parse(pkt)
	if err != nil {
		return err
	}
	s.m.PacketReceived(msg.Event.String())
	switch msg.Event {
	case protocol.NewPrimaryActor:
		s.fx.CreatePrimaryActor(msg.Actor.X, msg.Actor.Y, msg.Actor.ID)
	case protocol.NewSecondaryActor:
		s.fx.CreateSecondaryActor(msg.Actor.X, msg.Actor.Y, msg.Actor.ID)
	case protocol.SessionEnd:
		s.peerEnded.Store(true)
		s.mu.RLock()
		term := s.term
		s.mu.RUnlock()
		if term != nil {
			if err := term.Disable(); err != nil {
				s.log.Error("failed to disable termination hook", "mod", term.Name(), "err", err)
			}
		}
		s.fx.EndLevel()
		return ErrSessionEnded
	}
	return nil
}

// SendActor sends an actor creation. Without a connection it does
// nothing; a failed send is logged and tears the session down.
func (s *Session) SendActor(event protocol.EventType, x, y, id int32) {
	s.send(protocol.NewActor(event, s.role, protocol.ActorEvent{X: x, Y: y, ID: id}), event)
}

// SendEnd tells the peer the level ended and stops the session. Once the
// peer has ended the session nothing more is sent.
func (s *Session) SendEnd() {
	if s.peerEnded.Load() {
		return
	}
	if s.send(protocol.NewSessionEnd(s.role), protocol.SessionEnd) {
		s.Stop(true)
	}
}

func (s *Session) send(p *protocol.Packet, event protocol.EventType) bool {
	conn := s.current()
	if !conn.Valid() {
		return false
	}
	s.sendMu.Lock()
	err := p.Send(conn)
	s.sendMu.Unlock()
	if err != nil {
		s.m.TransportError("send")
		s.log.Warn("failed to send a packet", "event", event.String(), "err", err)
		s.Stop(false)
		return false
	}
	s.m.PacketSent(event.String())
	return true
}

// Stop cancels the receive loop, closes the connection and, if wait is
// set, waits for the loop to exit. It is idempotent.
func (s *Session) Stop(wait bool) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	s.teardown(done, wait)
}

// teardown stops the session whose loop is done. A loop exiting late does
// not tear down a session established after it.
func (s *Session) teardown(done chan struct{}, wait bool) {
	s.mu.Lock()
	if s.done != done {
		s.mu.Unlock()
		return
	}
	cancel, conn, ln := s.cancel, s.conn, s.ln
	s.cancel, s.conn, s.ln, s.done = nil, nil, nil, nil
	if done != nil {
		s.setState(Stopping)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}
	if conn != nil {
		conn.Close()
		s.log.Info("session stopped")
	}
	if done == nil {
		s.setState(Idle)
	} else if wait {
		<-done
	}
}
