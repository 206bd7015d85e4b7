//go:build inet6

package transport

// Version is the address family of this build.
const Version = 6

// LoopbackIP is the loopback address of the build family.
const LoopbackIP = "::1"

// NewAddr parses an address of the build family.
func NewAddr(ip string, port uint16) (Addr, error) {
	return NewIPv6(ip, port)
}
