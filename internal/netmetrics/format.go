package netmetrics

import (
	"net/netip"
	"strconv"
)

// formatEndpoint renders addr:port, falling back to the bare port when the
// address is unknown.
func formatEndpoint(addr netip.Addr, port uint16) string {
	if !addr.IsValid() {
		return ":" + strconv.Itoa(int(port))
	}
	return netip.AddrPortFrom(addr, port).String()
}

// Endpoint renders the remote side of c as host:port.
func (c Connection) Endpoint() string {
	return formatEndpoint(c.RemoteAddr, c.RemotePort)
}
