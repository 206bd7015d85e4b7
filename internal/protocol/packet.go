package protocol

import "fmt"

// Packet is a growable buffer holding one header and its payload.
type Packet struct {
	buf []byte
}

// Write appends p and returns the new packet size.
func (p *Packet) Write(b []byte) int {
	p.buf = append(p.buf, b...)
	return len(p.buf)
}

// Bytes returns the whole buffer.
func (p *Packet) Bytes() []byte { return p.buf }

func (p *Packet) Len() int { return len(p.buf) }

// Header decodes the header at the start of the buffer.
func (p *Packet) Header() (Header, error) {
	var h Header
	err := h.UnmarshalBinary(p.buf)
	return h, err
}

// Payload returns the bytes after the header.
func (p *Packet) Payload() []byte {
	if len(p.buf) < HeaderSize {
		return nil
	}
	return p.buf[HeaderSize:]
}

// Sender is a connection that writes whole buffers.
type Sender interface {
	Send(p []byte) error
}

// Receiver is a connection that fills whole buffers.
type Receiver interface {
	Recv(p []byte) error
}

// Send writes the packet to s.
func (p *Packet) Send(s Sender) error {
	return s.Send(p.buf)
}

// Encode frames payload behind h. The header's PayloadSize is set from the
// payload length.
func Encode(h Header, payload []byte) (*Packet, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	h.PayloadSize = uint32(len(payload))
	p := &Packet{buf: make([]byte, 0, HeaderSize+len(payload))}
	p.buf, _ = h.AppendBinary(p.buf)
	p.Write(payload)
	return p, nil
}

// NewActor encodes an actor creation event sent by role.
func NewActor(event EventType, role Role, a ActorEvent) *Packet {
	payload, _ := a.MarshalBinary()
	p, _ := Encode(Header{Event: event, Role: role}, payload)
	return p
}

// NewSessionEnd encodes the header-only end of session event.
func NewSessionEnd(role Role) *Packet {
	p, _ := Encode(Header{Event: SessionEnd, Role: role}, nil)
	return p
}

// Decode splits a complete frame into its header and payload.
func Decode(b []byte) (Header, []byte, error) {
	var h Header
	if err := h.UnmarshalBinary(b); err != nil {
		return h, nil, err
	}
	payload := b[HeaderSize:]
	if uint64(len(payload)) != uint64(h.PayloadSize) {
		return h, nil, fmt.Errorf("%w: header says %d, have %d", ErrShortPayload, h.PayloadSize, len(payload))
	}
	return h, payload, nil
}

// Recv reads one packet: the header first, to learn the payload size, then
// exactly that many bytes.
func Recv(r Receiver) (*Packet, error) {
	var hb [HeaderSize]byte
	if err := r.Recv(hb[:]); err != nil {
		return nil, err
	}
	var h Header
	if err := h.UnmarshalBinary(hb[:]); err != nil {
		return nil, err
	}
	if h.PayloadSize > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.PayloadSize)
	}
	p := &Packet{buf: make([]byte, HeaderSize+int(h.PayloadSize))}
	copy(p.buf, hb[:])
	if h.PayloadSize > 0 {
		if err := r.Recv(p.buf[HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Message is a decoded packet.
type Message struct {
	Header
	// set for actor events
	Actor ActorEvent
}

// Parse decodes p into a Message. Unknown event types fail with
// ErrUnknownEvent.
func Parse(p *Packet) (Message, error) {
	h, payload, err := Decode(p.Bytes())
	if err != nil {
		return Message{}, err
	}
	m := Message{Header: h}
	switch h.Event {
	case NewPrimaryActor, NewSecondaryActor:
		if err := m.Actor.UnmarshalBinary(payload); err != nil {
			return m, err
		}
	case SessionEnd:
	default:
		return m, fmt.Errorf("%w: %d", ErrUnknownEvent, int32(h.Event))
	}
	return m, nil
}
