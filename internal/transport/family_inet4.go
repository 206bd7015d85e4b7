//go:build !inet6

package transport

// Version is the address family of this build. Build with the inet6 tag
// for IPv6; a process never mixes the two.
const Version = 4

// LoopbackIP is the loopback address of the build family.
const LoopbackIP = "127.0.0.1"

// NewAddr parses an address of the build family.
func NewAddr(ip string, port uint16) (Addr, error) {
	return NewIPv4(ip, port)
}
