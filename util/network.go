package util

import (
	"net"
	"strconv"
)

// FormatAddr returns "host:port", bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ValidPort reports whether p is a usable TCP port number.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}
