// Package transport is the stream connection between the two peers of a
// session: one side binds and accepts a single connection, the other
// connects to it.
package transport

import (
	"fmt"
	"net/netip"
	"strconv"
)

// Addr is a socket address of one family.
type Addr interface {
	// Network is the name used with package net, "tcp4" or "tcp6".
	Network() string
	String() string
	// Version is the IP version, 4 or 6.
	Version() int
}

// IPv4Addr is a four byte address and a port.
type IPv4Addr struct {
	ap netip.AddrPort
}

// NewIPv4 parses a dotted IPv4 address.
func NewIPv4(ip string, port uint16) (IPv4Addr, error) {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return IPv4Addr{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if !a.Is4() {
		return IPv4Addr{}, fmt.Errorf("%w: %s is not IPv4", ErrBadAddress, ip)
	}
	return IPv4Addr{netip.AddrPortFrom(a, port)}, nil
}

func (a IPv4Addr) Network() string { return "tcp4" }

func (a IPv4Addr) String() string { return a.ap.String() }

func (a IPv4Addr) Version() int { return 4 }

func (a IPv4Addr) Port() uint16 { return a.ap.Port() }

// IPv6Addr is a sixteen byte address and a port.
type IPv6Addr struct {
	ap netip.AddrPort
}

// NewIPv6 parses an IPv6 address. IPv4-mapped forms are rejected.
func NewIPv6(ip string, port uint16) (IPv6Addr, error) {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return IPv6Addr{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if !a.Is6() || a.Is4In6() {
		return IPv6Addr{}, fmt.Errorf("%w: %s is not IPv6", ErrBadAddress, ip)
	}
	return IPv6Addr{netip.AddrPortFrom(a, port)}, nil
}

func (a IPv6Addr) Network() string { return "tcp6" }

func (a IPv6Addr) String() string { return a.ap.String() }

func (a IPv6Addr) Version() int { return 6 }

func (a IPv6Addr) Port() uint16 { return a.ap.Port() }

// ParsePort parses a decimal port number.
func ParsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q", ErrBadAddress, s)
	}
	return uint16(p), nil
}

// Loopback returns the loopback address of the build family.
func Loopback(port uint16) Addr {
	a, err := NewAddr(LoopbackIP, port)
	if err != nil {
		panic(err)
	}
	return a
}
