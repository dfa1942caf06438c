package netmetrics

import (
	"errors"
	"iter"
	"net/netip"
	"slices"
	"sync"
	"testing"
)

// fakeBackend is a lock-guarded in-memory backend. Mutations and views share
// mu the way a real stack shares its core lock.
type fakeBackend struct {
	mu          sync.Mutex
	stats       NetworkStats
	established []Connection
	tcpPorts    []uint16
	udpPorts    []uint16
	views       int
	locked      bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) View(fn func(View) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views++
	f.locked = true
	defer func() { f.locked = false }()
	return fn(fakeView{f})
}

type fakeView struct{ f *fakeBackend }

func (v fakeView) Stats() NetworkStats { return v.f.stats }

func (v fakeView) Records(cat Category) iter.Seq[Connection] {
	return func(yield func(Connection) bool) {
		if !v.f.locked {
			panic("records walked outside the backend lock")
		}
		switch cat {
		case Established:
			for _, c := range v.f.established {
				if !yield(c) {
					return
				}
			}
		case TCPListen:
			for _, p := range v.f.tcpPorts {
				if !yield(Connection{LocalPort: p}) {
					return
				}
			}
		case UDPListen:
			for _, p := range v.f.udpPorts {
				if !yield(Connection{LocalPort: p}) {
					return
				}
			}
		}
	}
}

func conn(local string, lport uint16, remote string, rport uint16) Connection {
	return Connection{
		LocalAddr:  netip.MustParseAddr(local),
		LocalPort:  lport,
		RemoteAddr: netip.MustParseAddr(remote),
		RemotePort: rport,
	}
}

func threeConnections() []Connection {
	return []Connection{
		conn("10.0.0.1", 80, "10.0.0.5", 4000),
		conn("10.0.0.1", 443, "10.0.0.6", 5000),
		conn("10.0.0.1", 22, "10.0.0.7", 6000),
	}
}

func TestGetEstablishedConnectionsFitsInBuffer(t *testing.T) {
	b := &fakeBackend{established: threeConnections()}
	c := New(b)

	out := make([]Connection, 5)
	var count uint32
	if err := c.GetEstablishedConnections(out, &count); err != nil {
		t.Fatalf("GetEstablishedConnections: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	want := threeConnections()
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %+v, want %+v", i, out[i], want[i])
		}
	}
	for i := 3; i < len(out); i++ {
		if out[i] != (Connection{}) {
			t.Fatalf("out[%d] written past total: %+v", i, out[i])
		}
	}
}

func TestGetEstablishedConnectionsTruncatesButReportsTotal(t *testing.T) {
	b := &fakeBackend{established: threeConnections()}
	c := New(b)

	sentinel := conn("192.0.2.1", 1, "192.0.2.2", 2)
	backing := []Connection{{}, sentinel, sentinel}
	out := backing[:1]

	var count uint32
	if err := c.GetEstablishedConnections(out, &count); err != nil {
		t.Fatalf("GetEstablishedConnections: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if out[0] != threeConnections()[0] {
		t.Fatalf("out[0] = %+v, want first connection", out[0])
	}
	if backing[1] != sentinel || backing[2] != sentinel {
		t.Fatal("write past capacity")
	}
}

func TestTruncationProperty(t *testing.T) {
	for l := 0; l <= 6; l++ {
		for capacity := 1; capacity <= 8; capacity++ {
			conns := make([]Connection, l)
			for i := range conns {
				conns[i] = conn("10.0.0.1", uint16(1000+i), "10.0.1.1", uint16(2000+i))
			}
			c := New(&fakeBackend{established: conns})

			sentinel := conn("192.0.2.9", 9, "192.0.2.9", 9)
			backing := make([]Connection, capacity+2)
			for i := range backing {
				backing[i] = sentinel
			}
			var count uint32
			if err := c.GetEstablishedConnections(backing[:capacity], &count); err != nil {
				t.Fatalf("L=%d C=%d: %v", l, capacity, err)
			}
			if int(count) != l {
				t.Fatalf("L=%d C=%d: count = %d, want %d", l, capacity, count, l)
			}
			written := min(l, capacity)
			for i := 0; i < written; i++ {
				if backing[i] != conns[i] {
					t.Fatalf("L=%d C=%d: out[%d] = %+v, want %+v", l, capacity, i, backing[i], conns[i])
				}
			}
			for i := written; i < len(backing); i++ {
				if backing[i] != sentinel {
					t.Fatalf("L=%d C=%d: index %d was written", l, capacity, i)
				}
			}
		}
	}
}

func TestCountOnlyWritesNothing(t *testing.T) {
	b := &fakeBackend{established: threeConnections(), tcpPorts: []uint16{80, 443}}
	c := New(b)

	var count uint32
	if err := c.GetEstablishedConnections(nil, &count); err != nil {
		t.Fatalf("GetEstablishedConnections: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if err := c.GetOpenTCPPorts(nil, &count); err != nil {
		t.Fatalf("GetOpenTCPPorts: %v", err)
	}
	if count != 2 {
		t.Fatalf("tcp count = %d, want 2", count)
	}
}

func TestEmptyBufferIsBadParameter(t *testing.T) {
	b := &fakeBackend{established: threeConnections()}
	c := New(b)

	count := uint32(42)
	err := c.GetEstablishedConnections([]Connection{}, &count)
	if !errors.Is(err, ErrBadParameter) {
		t.Fatalf("err = %v, want ErrBadParameter", err)
	}
	if count != 42 {
		t.Fatalf("count = %d, want untouched 42", count)
	}
	if err := c.GetOpenUDPPorts(make([]uint16, 0, 4), &count); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("udp err = %v, want ErrBadParameter", err)
	}
	if b.views != 0 {
		t.Fatalf("backend viewed %d times on bad parameters, want 0", b.views)
	}
}

func TestNilCountIsBadParameter(t *testing.T) {
	b := &fakeBackend{}
	c := New(b)

	if err := c.GetEstablishedConnections(make([]Connection, 2), nil); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("established err = %v, want ErrBadParameter", err)
	}
	if err := c.GetOpenTCPPorts(nil, nil); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("tcp err = %v, want ErrBadParameter", err)
	}
	if b.views != 0 {
		t.Fatalf("backend viewed %d times, want 0", b.views)
	}
}

func TestGetOpenPorts(t *testing.T) {
	b := &fakeBackend{tcpPorts: []uint16{22, 80, 443}, udpPorts: []uint16{53, 123}}
	c := New(b)

	tcp := make([]uint16, 2)
	var count uint32
	if err := c.GetOpenTCPPorts(tcp, &count); err != nil {
		t.Fatalf("GetOpenTCPPorts: %v", err)
	}
	if count != 3 {
		t.Fatalf("tcp count = %d, want 3", count)
	}
	if !slices.Equal(tcp, []uint16{22, 80}) {
		t.Fatalf("tcp = %v, want [22 80]", tcp)
	}

	udp := make([]uint16, 4)
	if err := c.GetOpenUDPPorts(udp, &count); err != nil {
		t.Fatalf("GetOpenUDPPorts: %v", err)
	}
	if count != 2 {
		t.Fatalf("udp count = %d, want 2", count)
	}
	if !slices.Equal(udp[:2], []uint16{53, 123}) {
		t.Fatalf("udp = %v, want [53 123 ...]", udp)
	}
}

func TestGetNetworkStats(t *testing.T) {
	want := NetworkStats{BytesReceived: 1500, BytesSent: 900, PacketsReceived: 12, PacketsSent: 7}
	c := New(&fakeBackend{stats: want})

	if err := c.GetNetworkStats(nil); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("nil destination err = %v, want ErrBadParameter", err)
	}

	var got NetworkStats
	if err := c.GetNetworkStats(&got); err != nil {
		t.Fatalf("GetNetworkStats: %v", err)
	}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}

func TestGetNetworkStatsIsNotTorn(t *testing.T) {
	b := &fakeBackend{}
	c := New(b)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			b.mu.Lock()
			b.stats = NetworkStats{
				BytesReceived:   i * 100,
				BytesSent:       i * 50,
				PacketsReceived: i,
				PacketsSent:     i,
			}
			b.mu.Unlock()
		}
	}()

	for n := 0; n < 1000; n++ {
		var s NetworkStats
		if err := c.GetNetworkStats(&s); err != nil {
			t.Fatalf("GetNetworkStats: %v", err)
		}
		if s.BytesReceived != s.PacketsReceived*100 || s.BytesSent != s.PacketsSent*50 || s.PacketsReceived != s.PacketsSent {
			t.Fatalf("torn read: %+v", s)
		}
	}
	close(stop)
	wg.Wait()
}
