// Package protocol is the framed wire format between the peers.
//
// Every packet is a fixed 12 byte header followed by exactly PayloadSize
// bytes. All integers are 32-bit little-endian so both peers see the same
// layout:
//
//	header  payloadSize uint32 | event int32 | role int32
//	actor   x int32 | y int32 | id int32
package protocol

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize = 12
	ActorSize  = 12
	// MaxPayload bounds the payload accepted from the stream. Real events
	// are a few bytes; anything past this is a corrupt stream.
	MaxPayload = 64 << 10
)

var (
	// ErrShortHeader means fewer than HeaderSize bytes
	ErrShortHeader = errors.New("short packet header")
	// ErrShortPayload means the payload length disagrees with the header
	ErrShortPayload = errors.New("payload size mismatch")
	// ErrPayloadTooLarge means a header announced more than MaxPayload
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnknownEvent means an event type outside the known set
	ErrUnknownEvent = errors.New("unknown event type")
)

// Role is the side of the pair a process plays.
type Role int32

const (
	Primary Role = iota
	Secondary
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "Primary"
	case Secondary:
		return "Secondary"
	}
	return fmt.Sprintf("Role(%d)", int32(r))
}

// Peer returns the other role.
func (r Role) Peer() Role {
	if r == Primary {
		return Secondary
	}
	return Primary
}

// ParseRole accepts a role name, capitalized or lower case, or its number.
func ParseRole(s string) (Role, error) {
	switch s {
	case "Primary", "primary", "0":
		return Primary, nil
	case "Secondary", "secondary", "1":
		return Secondary, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// EventType is the kind of a packet.
type EventType int32

const (
	NewPrimaryActor EventType = iota
	NewSecondaryActor
	SessionEnd
)

func (e EventType) String() string {
	switch e {
	case NewPrimaryActor:
		return "NewPrimaryActor"
	case NewSecondaryActor:
		return "NewSecondaryActor"
	case SessionEnd:
		return "SessionEnd"
	}
	return fmt.Sprintf("EventType(%d)", int32(e))
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	return e >= NewPrimaryActor && e <= SessionEnd
}

type Header struct {
	PayloadSize uint32
	Event       EventType
	Role        Role
}

var (
	_ encoding.BinaryMarshaler   = (*Header)(nil)
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
	_ encoding.BinaryMarshaler   = (*ActorEvent)(nil)
	_ encoding.BinaryUnmarshaler = (*ActorEvent)(nil)
)

func (h *Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

func (h *Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, h.PayloadSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Event))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Role))
	return b, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	h.PayloadSize = binary.LittleEndian.Uint32(data[0:4])
	h.Event = EventType(binary.LittleEndian.Uint32(data[4:8]))
	h.Role = Role(binary.LittleEndian.Uint32(data[8:12]))
	return nil
}

// ActorEvent is the payload of an actor creation: a position in host world
// coordinates and the actor id.
type ActorEvent struct {
	X  int32
	Y  int32
	ID int32
}

func (a *ActorEvent) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, ActorSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(a.X))
	b = binary.LittleEndian.AppendUint32(b, uint32(a.Y))
	b = binary.LittleEndian.AppendUint32(b, uint32(a.ID))
	return b, nil
}

func (a *ActorEvent) UnmarshalBinary(data []byte) error {
	if len(data) < ActorSize {
		return fmt.Errorf("%w: actor payload of %d bytes", ErrShortPayload, len(data))
	}
	a.X = int32(binary.LittleEndian.Uint32(data[0:4]))
	a.Y = int32(binary.LittleEndian.Uint32(data[4:8]))
	a.ID = int32(binary.LittleEndian.Uint32(data[8:12]))
	return nil
}
