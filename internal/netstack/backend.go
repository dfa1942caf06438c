package netstack

import (
	"iter"

	"github.com/breeze-rmm/netmetrics/internal/netmetrics"
)

// Backend walks a Stack's live PCB lists under its core lock.
type Backend struct {
	stack *Stack
}

// NewBackend returns a live-list backend over s.
func NewBackend(s *Stack) *Backend {
	return &Backend{stack: s}
}

func (b *Backend) Name() string { return "netstack" }

// View holds the core lock for the whole of fn. The deferred unlock also
// covers a panic inside fn.
func (b *Backend) View(fn func(netmetrics.View) error) error {
	b.stack.core.Lock()
	defer b.stack.core.Unlock()
	return fn(liveView{s: b.stack})
}

type liveView struct {
	s *Stack
}

func (v liveView) Stats() netmetrics.NetworkStats {
	return netmetrics.NetworkStats{
		BytesReceived:   v.s.bytesIn,
		BytesSent:       v.s.bytesOut,
		PacketsReceived: v.s.packetsIn,
		PacketsSent:     v.s.packetsOut,
	}
}

func (v liveView) Records(cat netmetrics.Category) iter.Seq[netmetrics.Connection] {
	var head *PCB
	switch cat {
	case netmetrics.Established:
		head = v.s.active
	case netmetrics.TCPListen:
		head = v.s.listen
	case netmetrics.UDPListen:
		head = v.s.udp
	}
	return func(yield func(netmetrics.Connection) bool) {
		for p := head; p != nil; p = p.next {
			if !yield(record(p)) {
				return
			}
		}
	}
}

func record(p *PCB) netmetrics.Connection {
	return netmetrics.Connection{
		LocalAddr:  p.local.Addr(),
		LocalPort:  p.local.Port(),
		RemoteAddr: p.remote.Addr(),
		RemotePort: p.remote.Port(),
	}
}
