package netmetrics

import (
	"net/netip"
	"time"
)

// Connection is one established TCP connection as observed by a backend.
//
// Addresses are kept exactly as the backend reports them (netip.Addr holds
// them in network byte order). Ports are plain host-order integers.
type Connection struct {
	LocalAddr  netip.Addr `json:"localAddr"`
	RemoteAddr netip.Addr `json:"remoteAddr"`
	LocalPort  uint16     `json:"localPort"`
	RemotePort uint16     `json:"remotePort"`
}

// NetworkStats holds the stack's aggregate traffic counters. The counters
// are 32-bit and wrap.
type NetworkStats struct {
	BytesReceived   uint32 `json:"bytesReceived"`
	BytesSent       uint32 `json:"bytesSent"`
	PacketsReceived uint32 `json:"packetsReceived"`
	PacketsSent     uint32 `json:"packetsSent"`
}

// Category selects one of the backing lists a backend exposes.
type Category int

const (
	Established Category = iota
	TCPListen
	UDPListen
)

func (c Category) String() string {
	switch c {
	case Established:
		return "established"
	case TCPListen:
		return "tcp_listen"
	case UDPListen:
		return "udp_listen"
	default:
		return "unknown"
	}
}

// Snapshot is a caller-owned copy of one sampling pass.
type Snapshot struct {
	Stats       NetworkStats `json:"stats"`
	Established []Connection `json:"established"`
	TCPPorts    []uint16     `json:"tcpPorts"`
	UDPPorts    []uint16     `json:"udpPorts"`
	TakenAt     time.Time    `json:"takenAt"`
}
