// Package psutil reads the host's socket tables and interface counters
// through gopsutil, one combined read per view.
package psutil

import (
	"fmt"
	"net/netip"
	"syscall"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
)

var log = logging.L("psutil")

const (
	statusListen      = "LISTEN"
	statusEstablished = "ESTABLISHED"
)

// Reader implements netmetrics.BatchReader over the host OS.
type Reader struct {
	connections func(kind string) ([]net.ConnectionStat, error)
	ioCounters  func(pernic bool) ([]net.IOCountersStat, error)
}

// NewReader returns a reader backed by gopsutil.
func NewReader() *Reader {
	return &Reader{
		connections: net.Connections,
		ioCounters:  net.IOCounters,
	}
}

// NewBackend wraps a host reader in the batch adapter.
func NewBackend() *netmetrics.BatchBackend {
	return netmetrics.NewBatchBackend("psutil", NewReader())
}

// ReadBatch collects sockets and counters. Listening TCP ports come from
// LISTEN sockets, established connections from ESTABLISHED ones, and UDP
// ports from every bound UDP socket. Ports bound on both address families
// are reported once.
func (r *Reader) ReadBatch() (*netmetrics.Batch, error) {
	conns, err := r.connections("inet")
	if err != nil {
		return nil, fmt.Errorf("read socket table: %w", err)
	}
	counters, err := r.ioCounters(false)
	if err != nil {
		return nil, fmt.Errorf("read interface counters: %w", err)
	}

	batch := &netmetrics.Batch{}
	if len(counters) > 0 {
		batch.Stats = toStats(counters[0])
	}

	seenTCP := make(map[uint16]bool)
	seenUDP := make(map[uint16]bool)
	for _, c := range conns {
		port := uint16(c.Laddr.Port)
		switch c.Type {
		case syscall.SOCK_STREAM:
			switch c.Status {
			case statusListen:
				if !seenTCP[port] {
					seenTCP[port] = true
					batch.TCPPorts = append(batch.TCPPorts, port)
				}
			case statusEstablished:
				batch.Established = append(batch.Established, netmetrics.Connection{
					LocalAddr:  parseAddr(c.Laddr.IP),
					LocalPort:  port,
					RemoteAddr: parseAddr(c.Raddr.IP),
					RemotePort: uint16(c.Raddr.Port),
				})
			}
		case syscall.SOCK_DGRAM:
			if port != 0 && !seenUDP[port] {
				seenUDP[port] = true
				batch.UDPPorts = append(batch.UDPPorts, port)
			}
		}
	}

	log.Debug("host socket table read",
		"sockets", len(conns),
		"tcpListen", len(batch.TCPPorts),
		"udpBound", len(batch.UDPPorts),
		"established", len(batch.Established),
	)
	return batch, nil
}

// toStats narrows the OS's 64-bit totals to the 32-bit wrapping counters.
func toStats(io net.IOCountersStat) netmetrics.NetworkStats {
	return netmetrics.NetworkStats{
		BytesReceived:   uint32(io.BytesRecv),
		BytesSent:       uint32(io.BytesSent),
		PacketsReceived: uint32(io.PacketsRecv),
		PacketsSent:     uint32(io.PacketsSent),
	}
}

func parseAddr(s string) netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
