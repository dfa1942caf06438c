package psutil

import (
	"errors"
	"net/netip"
	"slices"
	"syscall"
	"testing"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
)

func fakeReader(conns []net.ConnectionStat, connErr error, io []net.IOCountersStat, ioErr error) *Reader {
	return &Reader{
		connections: func(kind string) ([]net.ConnectionStat, error) {
			if kind != "inet" {
				panic("unexpected connection kind " + kind)
			}
			return conns, connErr
		},
		ioCounters: func(pernic bool) ([]net.IOCountersStat, error) {
			if pernic {
				panic("per-nic counters requested")
			}
			return io, ioErr
		},
	}
}

func sampleSockets() []net.ConnectionStat {
	return []net.ConnectionStat{
		{Type: syscall.SOCK_STREAM, Status: "LISTEN", Laddr: net.Addr{IP: "0.0.0.0", Port: 22}},
		{Type: syscall.SOCK_STREAM, Status: "LISTEN", Laddr: net.Addr{IP: "::", Port: 22}},
		{Type: syscall.SOCK_STREAM, Status: "LISTEN", Laddr: net.Addr{IP: "127.0.0.1", Port: 631}},
		{Type: syscall.SOCK_STREAM, Status: "ESTABLISHED",
			Laddr: net.Addr{IP: "10.0.0.1", Port: 22}, Raddr: net.Addr{IP: "10.0.0.7", Port: 6000}},
		{Type: syscall.SOCK_STREAM, Status: "TIME_WAIT",
			Laddr: net.Addr{IP: "10.0.0.1", Port: 41000}, Raddr: net.Addr{IP: "93.184.216.34", Port: 443}},
		{Type: syscall.SOCK_STREAM, Status: "ESTABLISHED",
			Laddr: net.Addr{IP: "::ffff:10.0.0.1", Port: 443}, Raddr: net.Addr{IP: "::ffff:10.0.0.6", Port: 5000}},
		{Type: syscall.SOCK_DGRAM, Status: "NONE", Laddr: net.Addr{IP: "0.0.0.0", Port: 53}},
		{Type: syscall.SOCK_DGRAM, Status: "NONE", Laddr: net.Addr{IP: "::", Port: 53}},
		{Type: syscall.SOCK_DGRAM, Status: "NONE", Laddr: net.Addr{IP: "0.0.0.0", Port: 123}},
	}
}

func TestReadBatchClassifiesSockets(t *testing.T) {
	r := fakeReader(sampleSockets(), nil, []net.IOCountersStat{{
		Name:        "all",
		BytesRecv:   1<<32 + 10,
		BytesSent:   2048,
		PacketsRecv: 30,
		PacketsSent: 20,
	}}, nil)

	batch, err := r.ReadBatch()
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if !slices.Equal(batch.TCPPorts, []uint16{22, 631}) {
		t.Fatalf("TCPPorts = %v, want [22 631]", batch.TCPPorts)
	}
	if !slices.Equal(batch.UDPPorts, []uint16{53, 123}) {
		t.Fatalf("UDPPorts = %v, want [53 123]", batch.UDPPorts)
	}
	if len(batch.Established) != 2 {
		t.Fatalf("Established = %d, want 2", len(batch.Established))
	}
	second := batch.Established[1]
	if second.RemoteAddr != netip.MustParseAddr("10.0.0.6") || second.LocalPort != 443 {
		t.Fatalf("mapped v4 connection = %+v", second)
	}
	if batch.Stats.BytesReceived != 10 {
		t.Fatalf("BytesReceived = %d, want wrapped 10", batch.Stats.BytesReceived)
	}
	if batch.Stats.PacketsSent != 20 {
		t.Fatalf("PacketsSent = %d, want 20", batch.Stats.PacketsSent)
	}
}

func TestReadBatchErrorsBecomeCollectionFailed(t *testing.T) {
	cause := errors.New("permission denied")
	backend := netmetrics.NewBatchBackend("psutil", fakeReader(nil, cause, nil, nil))
	c := netmetrics.New(backend)

	var count uint32
	err := c.GetEstablishedConnections(nil, &count)
	if !errors.Is(err, netmetrics.ErrCollectionFailed) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrCollectionFailed wrapping cause", err)
	}

	backend = netmetrics.NewBatchBackend("psutil", fakeReader(nil, nil, nil, cause))
	var stats netmetrics.NetworkStats
	if err := netmetrics.New(backend).GetNetworkStats(&stats); !errors.Is(err, netmetrics.ErrCollectionFailed) {
		t.Fatalf("counter err = %v, want ErrCollectionFailed", err)
	}
}

func TestReadBatchThroughCollectorTruncates(t *testing.T) {
	c := netmetrics.New(netmetrics.NewBatchBackend("psutil", fakeReader(sampleSockets(), nil, nil, nil)))

	ports := make([]uint16, 1)
	var count uint32
	if err := c.GetOpenUDPPorts(ports, &count); err != nil {
		t.Fatalf("GetOpenUDPPorts: %v", err)
	}
	if count != 2 || ports[0] != 53 {
		t.Fatalf("count = %d ports = %v, want 2 and [53]", count, ports)
	}
}
