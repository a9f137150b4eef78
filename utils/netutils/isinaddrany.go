package netutils

import "net"

// IsInAddrAny reports whether a listen address binds every interface.  Both
// bare hosts and host:port forms are accepted.
func IsInAddrAny(addr string) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return addr == "" || addr == "::" || addr == "::/0" || addr == "0.0.0.0"
}
